package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler runs a sweep function on a fixed interval. A sweep that would
// overlap one already in progress is skipped rather than queued.
type Scheduler struct {
	interval time.Duration
	sweep    func()

	running atomic.Bool
	limiter *rate.Limiter

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. Manual triggers are limited to
// one per second with a burst of one.
func NewScheduler(interval time.Duration, sweep func()) *Scheduler {
	return &Scheduler{
		interval: interval,
		sweep:    sweep,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Start begins the periodic sweep. Starting a running scheduler, or one with
// a non-positive interval, does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.interval <= 0 {
		return
	}
	s.started = true
	s.stop = make(chan struct{})

	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)

	go func(stop <-chan struct{}) {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Run()
			case <-stop:
				return
			}
		}
	}(s.stop)
}

// Stop halts the periodic sweep and waits for an in-flight sweep to finish.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the periodic sweep is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Run performs one sweep now. It returns false without sweeping when another
// sweep is already in progress.
func (s *Scheduler) Run() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	defer s.running.Store(false)

	s.sweep()
	return true
}

// Trigger requests an out-of-band sweep, subject to the trigger rate limit.
// It reports whether a sweep ran.
func (s *Scheduler) Trigger() bool {
	if !s.limiter.Allow() {
		return false
	}
	return s.Run()
}
