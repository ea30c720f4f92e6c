// Package reset implements the periodic reset scheduler of spec.md §4.5: a
// cooperative timer that emits ResetTick on a fixed cadence so the strategy
// engine can flush and rebuild its live order pool. Grounded on
// internal/config's HotReloader for the stopChan/doneChan shutdown idiom —
// the scheduler here trims that down to a bare ticker loop with no fsnotify
// dependency.
package reset

import (
	"sync"
	"time"

	"passive-mm/bus"
)

// Tick is the payload published on bus.TopicResetTick.
type Tick struct {
	Time time.Time
}

// Stats reports the scheduler's operational counters, per SPEC_FULL.md §12.
type Stats struct {
	LastResetTime      time.Time
	NextResetTime      time.Time
	Coalesced          int
	Emitted            int
}

// Scheduler emits a Tick every interval. If the previous tick's cascade is
// still draining when the next one is due, the new tick is coalesced
// (skipped, not queued), per spec.md §4.5.
type Scheduler struct {
	interval time.Duration
	bus      *bus.Bus

	mu       sync.Mutex
	draining bool
	stats    Stats

	stopChan chan struct{}
	doneChan chan struct{}
}

// New constructs a Scheduler. interval must be positive.
func New(b *bus.Bus, interval time.Duration) *Scheduler {
	return &Scheduler{
		interval: interval,
		bus:      b,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start runs the scheduler loop until Stop is called. It is meant to be
// launched as its own task, per spec.md §5's one-task-per-scheduler model.
func (s *Scheduler) Start() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	start := time.Now()
	s.mu.Lock()
	s.stats.NextResetTime = start.Add(s.interval)
	s.mu.Unlock()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.fire(now)
		}
	}
}

// Stop signals the scheduler to exit and blocks until its loop has returned.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

// MarkDrainComplete is called by the strategy engine once every cancel
// resulting from the most recent Tick has been submitted, clearing the
// draining flag so the next Tick is honored instead of coalesced.
func (s *Scheduler) MarkDrainComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = false
}

func (s *Scheduler) fire(now time.Time) {
	s.mu.Lock()
	if s.draining {
		s.stats.Coalesced++
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.stats.LastResetTime = now
	s.stats.NextResetTime = now.Add(s.interval)
	s.stats.Emitted++
	s.mu.Unlock()

	s.bus.Publish(bus.TopicResetTick, Tick{Time: now})
}

// Stats returns a copy of the scheduler's current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
