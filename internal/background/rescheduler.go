package background

import (
	"sync"
	"time"

	"github.com/banshee-data/waymark/internal/timeutil"
)

const (
	DefaultIdentifier = "waymark.background-location-update"
	DefaultMinDelay   = 15 * time.Minute
	DefaultWindow     = 20 * time.Second
)

// Tracker is the part of the tracking controller a wake drives. Both
// methods must return without blocking.
type Tracker interface {
	Resume()
	Suspend()
}

// Config configures a Rescheduler.
type Config struct {
	Identifier string
	// MinDelay is how far in the future each wake request begins.
	MinDelay time.Duration
	// Window is how long a wake keeps its task open before completing.
	Window time.Duration
	Clock  timeutil.Clock
}

// Rescheduler keeps at most one wake request outstanding.
type Rescheduler struct {
	scheduler Scheduler
	cfg       Config

	mu      sync.Mutex
	pending bool
	tracker Tracker
	lastErr error
}

func NewRescheduler(s Scheduler, cfg Config) *Rescheduler {
	if cfg.Identifier == "" {
		cfg.Identifier = DefaultIdentifier
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = DefaultMinDelay
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Rescheduler{scheduler: s, cfg: cfg}
}

// Register installs the wake handler with the scheduler. t is resumed on
// every wake.
func (r *Rescheduler) Register(t Tracker) error {
	r.mu.Lock()
	r.tracker = t
	r.mu.Unlock()
	return r.scheduler.Register(r.cfg.Identifier, r.onWake)
}

// Rearm submits a wake request unless one is already pending. A refused
// request is logged and retried by the next Rearm.
func (r *Rescheduler) Rearm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending {
		return
	}

	req := Request{
		Identifier:    r.cfg.Identifier,
		EarliestBegin: r.cfg.Clock.Now().Add(r.cfg.MinDelay),
	}
	if err := r.scheduler.Submit(req); err != nil {
		r.lastErr = &SchedulingError{Identifier: req.Identifier, Err: err}
		logf("%v", r.lastErr)
		return
	}
	r.pending = true
	r.lastErr = nil
	logf("wake scheduled no earlier than %s", req.EarliestBegin.Format(time.RFC3339))
}

// Cancel withdraws the pending request, if any.
func (r *Rescheduler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduler.Cancel(r.cfg.Identifier)
	if r.pending {
		logf("wake cancelled")
	}
	r.pending = false
}

// Pending reports whether a wake request is outstanding.
func (r *Rescheduler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// LastError returns the most recent scheduling failure, cleared by the next
// successful Rearm.
func (r *Rescheduler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// onWake resumes tracking, arms the next wake and holds the task open for
// the configured window. If the task expires first, tracking is suspended
// so it is not cut off mid-update.
func (r *Rescheduler) onWake(t Task) {
	r.mu.Lock()
	r.pending = false
	tracker := r.tracker
	r.mu.Unlock()

	logf("woke %s (budget %s)", t.Identifier(), t.Budget())
	if tracker != nil {
		tracker.Resume()
	}
	r.Rearm()

	window := r.cfg.Clock.NewTimer(r.cfg.Window)
	defer window.Stop()

	select {
	case <-t.Expired():
		logf("wake %s expired before its window closed, suspending", t.Identifier())
		if tracker != nil {
			tracker.Suspend()
		}
		t.Complete(false)
	case <-window.C():
		t.Complete(true)
	}
}
