package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// WorkerPool runs jobs on a bounded number of goroutines and spaces job
// starts by at least the configured rate limit.
type WorkerPool struct {
	rateLimit time.Duration
	semaphore chan struct{}
	wg        sync.WaitGroup

	rateMu      sync.Mutex
	lastRequest time.Time

	mu   sync.Mutex
	errs []error
}

// NewWorkerPool creates a WorkerPool with the given concurrency and rate limit.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		rateLimit: time.Duration(rateLimitMs) * time.Millisecond,
		semaphore: make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job. It blocks while all workers are busy. Jobs submitted
// after ctx is cancelled are not started and record ctx.Err().
func (wp *WorkerPool) Submit(ctx context.Context, job func(ctx context.Context) error) {
	wp.wg.Add(1)

	select {
	case wp.semaphore <- struct{}{}:
	case <-ctx.Done():
		wp.record(ctx.Err())
		wp.wg.Done()
		return
	}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		if err := wp.waitTurn(ctx); err != nil {
			wp.record(err)
			return
		}
		wp.record(job(ctx))
	}()
}

// Wait blocks until all submitted jobs have completed and returns their
// joined errors.
func (wp *WorkerPool) Wait() error {
	wp.wg.Wait()
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return errors.Join(wp.errs...)
}

func (wp *WorkerPool) record(err error) {
	if err == nil {
		return
	}
	wp.mu.Lock()
	wp.errs = append(wp.errs, err)
	wp.mu.Unlock()
}

func (wp *WorkerPool) waitTurn(ctx context.Context) error {
	wp.rateMu.Lock()
	defer wp.rateMu.Unlock()

	if wait := wp.rateLimit - time.Since(wp.lastRequest); wait > 0 && !wp.lastRequest.IsZero() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	wp.lastRequest = time.Now()
	return nil
}

// URLSet is a thread-safe set of visited page URLs. Fragments and trailing
// slashes are ignored when comparing.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

func normaliseURL(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	key := normaliseURL(url)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the URL has already been visited.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[normaliseURL(url)]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
