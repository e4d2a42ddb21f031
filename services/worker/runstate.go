package worker

import (
	"sync"
	"time"
)

// RunSummary captures one crawl run for reporting.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Sources    int       `json:"sources"`
	NewCodes   int       `json:"new_codes"`
	Duplicates int       `json:"duplicates"`
	Errors     int       `json:"errors"`
}

// Status is a point-in-time view of the run state for the dashboard.
type Status struct {
	Running     bool        `json:"is_running"`
	LastRun     time.Time   `json:"last_run,omitempty"`
	LastSummary *RunSummary `json:"last_summary,omitempty"`
}

// RunState tracks whether a crawl is in flight, when the last one ran and
// the manual trigger cooldown. All access goes through the mutex; there is
// no module-level shared state.
type RunState struct {
	mu          sync.Mutex
	running     bool
	lastRun     time.Time
	lastSummary *RunSummary
	cooldown    time.Duration
}

// NewRunState creates a run state with the given manual trigger cooldown.
func NewRunState(cooldown time.Duration) *RunState {
	return &RunState{cooldown: cooldown}
}

// Status returns a snapshot of the current state.
func (s *RunState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:     s.running,
		LastRun:     s.lastRun,
		LastSummary: s.lastSummary,
	}
}

// BeginScheduled claims the running flag for a scheduled run. Returns
// false while a run is already in flight; overlapping runs are skipped,
// not queued.
func (s *RunState) BeginScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// TryTrigger claims the running flag for a manual run. Refused while a run
// is in flight or within the cooldown window; the returned duration says
// how long the caller has to wait.
func (s *RunState) TryTrigger() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, 0
	}
	if !s.lastRun.IsZero() {
		if elapsed := time.Since(s.lastRun); elapsed < s.cooldown {
			return false, s.cooldown - elapsed
		}
	}
	s.running = true
	return true, 0
}

// Finish releases the running flag and records the summary.
func (s *RunState) Finish(summary *RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = time.Now()
	s.lastSummary = summary
}
