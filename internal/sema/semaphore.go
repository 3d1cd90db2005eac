// Package sema provides the blocking counting semaphore that drives the
// reorder experiment's start and completion handshakes.
package sema

import "sync"

// Semaphore is a counting semaphore built on a mutex and condition variable.
//
// Acquire and Release take a permit count so that a single waiter can
// rendezvous with several releasers (the orchestrator waits for both workers
// with one Acquire(2)). Because waiters may ask for different amounts,
// Release wakes every waiter and each re-checks its own predicate.
//
// The zero value is ready to use and holds no permits. A Semaphore must not
// be copied after first use.
type Semaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count uint32
}

// New creates a Semaphore holding count permits.
func New(count uint32) *Semaphore {
	s := &Semaphore{count: count}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// condLocked lazily binds the condition variable for zero-value semaphores.
// s.mu must be held.
func (s *Semaphore) condLocked() *sync.Cond {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	return s.cond
}

// Acquire blocks until at least n permits are available and takes them.
// There is no timeout or cancellation.
func (s *Semaphore) Acquire(n uint32) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	cond := s.condLocked()
	for s.count < n {
		cond.Wait()
	}
	s.count -= n
	s.mu.Unlock()
}

// TryAcquire takes n permits if they are available right now.
func (s *Semaphore) TryAcquire(n uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < n {
		return false
	}
	s.count -= n
	return true
}

// Release adds n permits and wakes all waiters.
func (s *Semaphore) Release(n uint32) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	s.count += n
	cond := s.condLocked()
	s.mu.Unlock()

	cond.Broadcast()
}

// Count returns the number of permits currently available.
func (s *Semaphore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
