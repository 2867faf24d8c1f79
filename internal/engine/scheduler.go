package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// scheduler is the bounded-concurrency dispatcher: a FIFO pending queue plus
// a weighted semaphore capping in-flight pipeline executions. The dispatch
// loop itself never runs a pipeline, so a full set of busy slots never stops
// it from servicing queue mutations.
type scheduler struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   []string
	active    map[string]bool
	cancelled map[string]bool
	closed    bool

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	run      func(id string)
	wg       sync.WaitGroup
}

func newScheduler(maxConcurrent int, run func(id string)) *scheduler {
	s := &scheduler{
		active:    make(map[string]bool),
		cancelled: make(map[string]bool),
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		run:       run,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// start launches the dispatch loop. The loop exits when ctx is cancelled or
// the scheduler is closed.
func (s *scheduler) start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		// Acquire the slot first so the head job stays in the pending queue
		// (visible, cancellable) until it can actually start.
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}

		id, ok := s.next()
		if !ok {
			s.sem.Release(1)
			return
		}

		s.inFlight.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.inFlight.Add(-1)
			defer s.sem.Release(1)
			s.run(id)
			s.forget(id)
		}()
	}
}

// next blocks until a pending job is available, returning false once closed.
func (s *scheduler) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return "", false
	}
	id := s.pending[0]
	s.pending = s.pending[1:]
	// Claimed under the same lock that removes it from pending, so every job
	// is either pending or active while it is cancellable.
	s.active[id] = true
	return id, true
}

// enqueue appends a job to the tail of the pending queue.
func (s *scheduler) enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, id)
	s.cond.Signal()
}

// removePending takes a job out of the pending queue before it is dispatched.
// Returns false if the job is not pending (already dispatched or unknown).
func (s *scheduler) removePending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// markCancelled records an advisory cancellation for a dispatched job; the
// pipeline runner observes it at the next stage boundary. Jobs with no live
// slot are refused so a finished job never leaves a stale flag.
func (s *scheduler) markCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[id] {
		return false
	}
	s.cancelled[id] = true
	return true
}

// isCancelled reports whether an advisory cancellation was recorded.
func (s *scheduler) isCancelled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[id]
}

// forget releases a job's slot state once it has finished.
func (s *scheduler) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
	delete(s.cancelled, id)
}

// queueDepth returns the number of jobs waiting for dispatch.
func (s *scheduler) queueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// close stops the dispatch loop and waits for in-flight pipelines to finish.
func (s *scheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}
