package buffer

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var ErrInsufficientData = errors.New("insufficient transitions for sampling")

// Memory is a fixed-capacity experience replay store. Once full, each push
// overwrites the oldest transition.
type Memory struct {
	mu       sync.Mutex
	items    []Transition
	head     int
	size     int
	capacity int
	rng      *rand.Rand
}

func NewMemory(capacity int, seed int64) (*Memory, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	return &Memory{
		items:    make([]Transition, capacity),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (m *Memory) Push(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.size < m.capacity {
		m.items[(m.head+m.size)%m.capacity] = t
		m.size++
		return
	}
	m.items[m.head] = t
	m.head = (m.head + 1) % m.capacity
}

// Sample draws n distinct stored transitions uniformly at random.
func (m *Memory) Sample(n int) ([]Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", n)
	}
	if m.size < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, m.size, n)
	}

	// Partial Fisher-Yates over logical indices.
	idx := make([]int, m.size)
	for i := range idx {
		idx[i] = i
	}
	batch := make([]Transition, n)
	for i := 0; i < n; i++ {
		j := i + m.rng.Intn(m.size-i)
		idx[i], idx[j] = idx[j], idx[i]
		batch[i] = m.items[(m.head+idx[i])%m.capacity]
	}
	return batch, nil
}

// Snapshot returns the stored transitions, oldest first.
func (m *Memory) Snapshot() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Transition, m.size)
	for i := 0; i < m.size; i++ {
		out[i] = m.items[(m.head+i)%m.capacity]
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = make([]Transition, m.capacity)
	m.head = 0
	m.size = 0
}

func (m *Memory) Capacity() int {
	return m.capacity
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.size
}
