package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once.
// Tasks are always started in enqueue order; the strategy only decides
// whether the next pending task may start now.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task can start given current state
	CanStart() bool
	// OnStart is called when a task starts
	OnStart()
	// OnComplete is called when a task reaches a terminal state
	OnComplete()
}

// StrategyFor returns SerializedStrategy for concurrency <= 1 and a
// BoundedStrategy otherwise.
func StrategyFor(concurrency int) ConcurrencyStrategy {
	if concurrency <= 1 {
		return NewSerializedStrategy()
	}
	return NewBoundedStrategy(concurrency)
}

// ============================================================================
// SerializedStrategy - one task at a time
// ============================================================================

// SerializedStrategy runs exactly one task at a time.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy with a single in-flight task.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// ============================================================================
// BoundedStrategy - up to N tasks at a time
// ============================================================================

// BoundedStrategy allows up to maxConcurrent tasks to run in parallel.
type BoundedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewBoundedStrategy creates a strategy that allows up to maxConcurrent
// tasks to run in parallel.
func NewBoundedStrategy(maxConcurrent int) *BoundedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BoundedStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *BoundedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *BoundedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *BoundedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

// MaxConcurrent returns the configured limit.
func (s *BoundedStrategy) MaxConcurrent() int {
	return s.maxConcurrent
}
