package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dqn-trader/internal/agent"
	"dqn-trader/internal/config"
	"dqn-trader/internal/market"
	"dqn-trader/internal/qnet"
)

const defaultPort = 9003

type serveOptions struct {
	model    string
	modelDir string
	port     int
}

func serveCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve greedy decisions of a saved model over HTTP",
		Long: `Serve a saved model read-only. POST /act with {"prices": [...], "inventory": n}
returns the greedy action for the last price and the estimated action values.
No orders are placed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, func(cfg *config.Config) {
				if cmd.Flags().Changed("model-dir") {
					cfg.Training.ModelDir = opts.modelDir
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			net, path, err := loadModel(opts.model, cfg.Training.ModelDir)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ":"+strconv.Itoa(opts.port), newServer(net, path, logger))
		},
	}

	cmd.Flags().StringVar(&opts.model, "model", "", "Model path or name in the model directory")
	cmd.Flags().StringVar(&opts.modelDir, "model-dir", "", "Directory searched for model names")
	cmd.Flags().IntVar(&opts.port, "port", defaultPort, "Listen port")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

type actRequest struct {
	Prices    []float64 `json:"prices"`
	Inventory int       `json:"inventory"`
}

type actResponse struct {
	Action  string    `json:"action"`
	QValues []float64 `json:"q_values"`
}

type server struct {
	net       *qnet.Network
	modelPath string
	logger    *zap.Logger
	requests  atomic.Int64
	started   time.Time
}

func newServer(net *qnet.Network, modelPath string, logger *zap.Logger) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &server{net: net, modelPath: modelPath, logger: logger, started: time.Now()}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cfg := s.net.Config()
		payload := map[string]any{
			"model":          s.modelPath,
			"window":         cfg.Inputs,
			"hidden":         cfg.Hidden,
			"requests":       s.requests.Load(),
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		}
		writeJSON(w, payload)
	})
	mux.HandleFunc("/act", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req actRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Prices) == 0 || req.Inventory < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.requests.Add(1)

		series := market.NewSeries("", req.Prices)
		state := market.EncodeState(series, series.Len()-1, s.net.Config().Inputs)
		values := s.net.Predict(state)
		action := agent.Greedy(values, req.Inventory > 0)
		s.logger.Debug("act", zap.String("action", action.String()), zap.Float64s("q_values", values))

		writeJSON(w, actResponse{Action: action.String(), QValues: values})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// serve runs until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, addr string, s *server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("serving model", zap.String("addr", addr), zap.String("model", s.modelPath))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
