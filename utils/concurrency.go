package utils

import (
	"context"
	"sync"
)

// WorkerPool runs jobs on a bounded number of goroutines and collects the
// errors they return.
type WorkerPool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewWorkerPool creates a WorkerPool running at most maxWorkers jobs at once.
// A maxWorkers below 1 is treated as 1, which makes the pool sequential.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{semaphore: make(chan struct{}, maxWorkers)}
}

// Submit starts job once a worker is free. It blocks while all workers are
// busy and returns ctx.Err() without running job if ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, job func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if err := job(); err != nil {
			wp.mu.Lock()
			wp.errs = append(wp.errs, err)
			wp.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until all submitted jobs have completed and returns their
// errors in completion order.
func (wp *WorkerPool) Wait() []error {
	wp.wg.Wait()

	wp.mu.Lock()
	defer wp.mu.Unlock()
	errs := wp.errs
	wp.errs = nil
	return errs
}

// KeySet is a thread-safe set of strings, used to enforce per-batch
// uniqueness of domains.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains reports whether key has been added.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
