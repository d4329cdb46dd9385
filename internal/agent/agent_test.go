package agent

import (
	"math"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"go.uber.org/zap/zaptest"

	"dqn-trader/internal/buffer"
	"dqn-trader/internal/market"
	"dqn-trader/internal/qnet"
)

type update struct {
	Actions []int
	Targets []float64
}

type stubNet struct {
	online  qnet.Estimator
	target  qnet.Estimator
	updates []update
	syncs   int
}

func (s *stubNet) Online() qnet.Estimator { return s.online }
func (s *stubNet) Target() qnet.Estimator { return s.target }
func (s *stubNet) SyncTarget()            { s.syncs++ }

func (s *stubNet) Update(_ [][]float64, actions []int, targets []float64) (float64, error) {
	s.updates = append(s.updates, update{Actions: actions, Targets: targets})
	return 0.25, nil
}

func constant(values ...float64) qnet.Estimator {
	return qnet.EstimatorFunc(func([]float64) []float64 {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	})
}

func newTestAgent(t *testing.T, net Approximator, strategy Strategy, cfg Config, capacity int) *Agent {
	t.Helper()
	memory, err := buffer.NewMemory(capacity, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, err := New(cfg, net, strategy, memory, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

var step = buffer.Transition{
	State:     market.State{0.5, 0.5},
	Action:    market.ActionBuy,
	Reward:    2,
	NextState: market.State{0.6, 0.4},
}

func TestStrategyTargets(t *testing.T) {
	const gamma = 0.5
	online := constant(1, 5, 2)
	target := constant(4, 0, 3)

	tests := []struct {
		strategy Strategy
		want     float64
	}{
		{Vanilla{}, 2 + gamma*5},
		{FixedTarget{}, 2 + gamma*4},
		// online argmax is sell, whose target value is 0.
		{Double{}, 2},
	}
	for _, test := range tests {
		got := test.strategy.Target(step, online, target, gamma)
		if got != test.want {
			t.Errorf("%s: target = %v, want %v", test.strategy.Name(), got, test.want)
		}
	}

	if (Double{}).Target(step, online, target, gamma) == (Vanilla{}).Target(step, online, target, gamma) {
		t.Error("double and vanilla should differ when the argmaxes disagree")
	}
}

func TestStrategiesAgreeWithEqualParameters(t *testing.T) {
	const gamma = 0.9
	same := constant(0.3, -1, 0.7)

	var targets []float64
	for _, s := range []Strategy{Vanilla{}, FixedTarget{}, Double{}} {
		targets = append(targets, s.Target(step, same, same, gamma))
	}
	want := []float64{2 + gamma*0.7, 2 + gamma*0.7, 2 + gamma*0.7}
	if diff := pretty.Compare(want, targets); diff != "" {
		t.Errorf("targets -want +got:\n%s", diff)
	}
}

func TestStrategiesAgreeAfterSync(t *testing.T) {
	net, err := qnet.New(qnet.Config{Inputs: 2, Hidden: []int{6}, Outputs: 3, LearningRate: 0.05}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 25; i++ {
		if _, err := net.Update([][]float64{{0.6, 0.4}}, []int{i % 3}, []float64{float64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	net.SyncTarget()

	v := Vanilla{}.Target(step, net.Online(), net.Target(), 0.95)
	f := FixedTarget{}.Target(step, net.Online(), net.Target(), 0.95)
	d := Double{}.Target(step, net.Online(), net.Target(), 0.95)
	if v != f || v != d {
		t.Errorf("targets differ after sync: vanilla %v, fixed %v, double %v", v, f, d)
	}
}

func TestTerminalTargetIsReward(t *testing.T) {
	done := step
	done.Done = true
	for _, s := range []Strategy{Vanilla{}, FixedTarget{}, Double{}} {
		if got := s.Target(done, constant(9, 9, 9), constant(9, 9, 9), 0.99); got != done.Reward {
			t.Errorf("%s: terminal target = %v, want %v", s.Name(), got, done.Reward)
		}
	}
}

func TestGreedy(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		canSell bool
		want    market.Action
	}{
		{"sell masked", []float64{1, 5, 1}, false, market.ActionBuy},
		{"sell allowed", []float64{1, 5, 1}, true, market.ActionSell},
		{"all tied", []float64{2, 2, 2}, true, market.ActionBuy},
		{"sell and hold tied", []float64{0, 3, 3}, true, market.ActionSell},
		{"hold best", []float64{0, 3, 4}, false, market.ActionHold},
	}
	for _, test := range tests {
		if got := Greedy(test.values, test.canSell); got != test.want {
			t.Errorf("%s: Greedy(%v, %v) = %v, want %v", test.name, test.values, test.canSell, got, test.want)
		}
	}
}

func TestActExplores(t *testing.T) {
	net := &stubNet{online: constant(0, 0, 1), target: constant(0, 0, 1)}
	a := newTestAgent(t, net, Vanilla{}, Config{Gamma: 0.9, BatchSize: 1}, 10)
	sess := NewSession(ModeTraining, Exploration{Start: 1, Min: 0.01, Decay: 0.9}, 5)

	seen := make(map[market.Action]bool)
	for i := 0; i < 300; i++ {
		seen[a.Act(sess, market.State{0.5}, false)] = true
	}
	for _, action := range []market.Action{market.ActionBuy, market.ActionSell, market.ActionHold} {
		if !seen[action] {
			t.Errorf("epsilon 1 never produced %v", action)
		}
	}

	sess.Epsilon = 0
	for i := 0; i < 50; i++ {
		if got := a.Act(sess, market.State{0.5}, false); got != market.ActionHold {
			t.Fatalf("epsilon 0 acted %v, want hold", got)
		}
	}
}

func TestActEvaluatingIsGreedy(t *testing.T) {
	net := &stubNet{online: constant(3, 1, 2), target: constant(0, 0, 0)}
	a := newTestAgent(t, net, Double{}, Config{Gamma: 0.9, BatchSize: 1}, 10)
	sess := NewSession(ModeEvaluating, Exploration{Start: 1, Min: 1, Decay: 1}, 5)
	sess.Epsilon = 1

	for i := 0; i < 50; i++ {
		if got := a.Act(sess, market.State{0.5}, true); got != market.ActionBuy {
			t.Fatalf("evaluating acted %v, want buy", got)
		}
	}
}

func TestTrainStepWaitsForBatch(t *testing.T) {
	net := &stubNet{online: constant(0, 0, 0), target: constant(0, 0, 0)}
	a := newTestAgent(t, net, Vanilla{}, Config{Gamma: 0.9, BatchSize: 4}, 10)
	sess := NewSession(ModeTraining, Exploration{Start: 1, Min: 0.1, Decay: 0.9}, 1)

	for i := 0; i < 3; i++ {
		a.Remember(step)
		_, trained, err := a.TrainStep(sess)
		if err != nil || trained {
			t.Fatalf("with %d transitions: trained=%v err=%v", i+1, trained, err)
		}
	}
	if len(net.updates) != 0 || sess.TrainSteps != 0 {
		t.Fatalf("updated before a full batch was stored")
	}

	a.Remember(step)
	loss, trained, err := a.TrainStep(sess)
	if err != nil || !trained || loss != 0.25 {
		t.Fatalf("full batch: loss=%v trained=%v err=%v", loss, trained, err)
	}
	if sess.TrainSteps != 1 {
		t.Errorf("TrainSteps = %d, want 1", sess.TrainSteps)
	}
}

func TestTrainStepUsesTakenActionsAndTargets(t *testing.T) {
	net := &stubNet{online: constant(1, 2, 3), target: constant(1, 2, 3)}
	a := newTestAgent(t, net, FixedTarget{}, Config{Gamma: 0.5, BatchSize: 1}, 1)
	sess := NewSession(ModeTraining, Exploration{Start: 1, Min: 0.1, Decay: 0.9}, 1)

	sell := step
	sell.Action = market.ActionSell
	a.Remember(sell)
	if _, _, err := a.TrainStep(sess); err != nil {
		t.Fatal(err)
	}

	want := []update{{Actions: []int{int(market.ActionSell)}, Targets: []float64{2 + 0.5*3}}}
	if diff := pretty.Compare(want, net.updates); diff != "" {
		t.Errorf("updates -want +got:\n%s", diff)
	}
}

func TestTrainStepSyncsOnInterval(t *testing.T) {
	for _, test := range []struct {
		strategy  Strategy
		wantSyncs int
	}{
		{Vanilla{}, 0},
		{FixedTarget{}, 2},
		{Double{}, 2},
	} {
		net := &stubNet{online: constant(0, 0, 0), target: constant(0, 0, 0)}
		a := newTestAgent(t, net, test.strategy, Config{Gamma: 0.9, BatchSize: 1, TargetUpdateInterval: 2}, 5)
		sess := NewSession(ModeTraining, Exploration{Start: 1, Min: 0.1, Decay: 0.9}, 1)
		a.Remember(step)
		for i := 0; i < 5; i++ {
			if _, _, err := a.TrainStep(sess); err != nil {
				t.Fatal(err)
			}
		}
		if net.syncs != test.wantSyncs {
			t.Errorf("%s: %d syncs, want %d", test.strategy.Name(), net.syncs, test.wantSyncs)
		}
	}
}

func TestTrainStepSkippedWhileEvaluating(t *testing.T) {
	net := &stubNet{online: constant(0, 0, 0), target: constant(0, 0, 0)}
	a := newTestAgent(t, net, Vanilla{}, Config{Gamma: 0.9, BatchSize: 1}, 5)
	a.Remember(step)

	sess := NewSession(ModeEvaluating, Exploration{}, 1)
	if _, trained, _ := a.TrainStep(sess); trained || len(net.updates) != 0 {
		t.Error("evaluation session trained")
	}
}

func TestSessionEpsilonDecay(t *testing.T) {
	sess := NewSession(ModeTraining, Exploration{Start: 1, Min: 0.5, Decay: 0.8}, 1)

	var got []float64
	for i := 0; i < 4; i++ {
		sess.EndEpisode()
		got = append(got, math.Round(sess.Epsilon*1000)/1000)
	}
	if diff := pretty.Compare([]float64{0.8, 0.64, 0.512, 0.5}, got); diff != "" {
		t.Errorf("epsilon schedule -want +got:\n%s", diff)
	}
	if sess.Episode != 4 {
		t.Errorf("Episode = %d, want 4", sess.Episode)
	}

	eval := sess.Evaluation(2)
	if eval.Mode != ModeEvaluating || eval.Epsilon != 0 {
		t.Errorf("evaluation session = %+v", eval)
	}
}

func TestNewValidates(t *testing.T) {
	memory, err := buffer.NewMemory(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	net := &stubNet{online: constant(0, 0, 0), target: constant(0, 0, 0)}

	if _, err := New(Config{Gamma: 1, BatchSize: 1}, net, Vanilla{}, memory, nil); err == nil {
		t.Error("gamma 1 should be rejected")
	}
	if _, err := New(Config{Gamma: 0.9}, net, Vanilla{}, memory, nil); err == nil {
		t.Error("batch size 0 should be rejected")
	}
	if _, err := New(Config{Gamma: 0.9, BatchSize: 1}, nil, Vanilla{}, memory, nil); err == nil {
		t.Error("missing approximator should be rejected")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, name := range StrategyNames() {
		s, err := ParseStrategy(name)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", name, err)
		}
		if s.Name() != name {
			t.Errorf("ParseStrategy(%q).Name() = %q", name, s.Name())
		}
	}
	if _, err := ParseStrategy("dueling"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
