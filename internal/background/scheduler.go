// Package background keeps location tracking alive across suspensions. A
// Scheduler hosts deferred wake-up tasks; the Rescheduler keeps exactly one
// wake request outstanding while tracking and resumes tracking when it fires.
package background

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/waymark/internal/monitoring"
	"github.com/banshee-data/waymark/internal/timeutil"
)

var logf = monitoring.Prefixed("background")

var (
	// ErrQuotaExceeded is returned when the host refuses further wake
	// requests for the current period.
	ErrQuotaExceeded = errors.New("background wake quota exceeded")
	// ErrNotRegistered is returned when a request names an identifier with
	// no registered handler.
	ErrNotRegistered = errors.New("no handler registered for identifier")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("background runner closed")
)

// Request asks the host to run the handler registered under Identifier no
// earlier than EarliestBegin.
type Request struct {
	Identifier                  string    `json:"identifier"`
	EarliestBegin               time.Time `json:"earliest_begin"`
	RequiresExternalPower       bool      `json:"requires_external_power"`
	RequiresNetworkConnectivity bool      `json:"requires_network_connectivity"`
}

// Task is handed to a wake handler. Expired is closed when the execution
// budget runs out. Complete must be called once; later calls are ignored.
type Task interface {
	Identifier() string
	Budget() time.Duration
	Expired() <-chan struct{}
	Complete(success bool)
}

// Scheduler is the host's deferred task facility.
type Scheduler interface {
	Register(identifier string, handler func(Task)) error
	Submit(req Request) error
	Cancel(identifier string)
}

// SchedulingError reports a wake request the host refused.
type SchedulingError struct {
	Identifier string
	Err        error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.Identifier, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Budget is how long a handler may run before its task expires.
	Budget time.Duration
	// MaxWakesPerDay caps accepted submissions in any rolling 24 hours.
	// Zero disables the cap.
	MaxWakesPerDay int
	Clock          timeutil.Clock
}

// RunnerStats summarises a Runner's activity.
type RunnerStats struct {
	Pending   int   `json:"pending"`
	Submitted int64 `json:"submitted"`
	Started   int64 `json:"started"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Expired   int64 `json:"expired"`
}

// Runner is an in-process Scheduler. Each identifier has at most one
// pending request; submitting again replaces it.
type Runner struct {
	clock     timeutil.Clock
	budget    time.Duration
	maxPerDay int

	mu          sync.Mutex
	handlers    map[string]func(Task)
	pending     map[string]*pendingRequest
	submissions []time.Time
	stats       RunnerStats
	closed      bool
	wg          sync.WaitGroup
}

type pendingRequest struct {
	req       Request
	timer     timeutil.Timer
	cancelled chan struct{}
}

// NewRunner returns a Runner. A zero Budget defaults to 30 seconds.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 30 * time.Second
	}
	return &Runner{
		clock:     cfg.Clock,
		budget:    cfg.Budget,
		maxPerDay: cfg.MaxWakesPerDay,
		handlers:  make(map[string]func(Task)),
		pending:   make(map[string]*pendingRequest),
	}
}

func (r *Runner) Register(identifier string, handler func(Task)) error {
	if identifier == "" || handler == nil {
		return errors.New("register: identifier and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[identifier]; ok {
		return fmt.Errorf("register %s: already registered", identifier)
	}
	r.handlers[identifier] = handler
	return nil
}

func (r *Runner) Submit(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	handler, ok := r.handlers[req.Identifier]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, req.Identifier)
	}

	now := r.clock.Now()
	r.pruneSubmissions(now)
	if r.maxPerDay > 0 && len(r.submissions) >= r.maxPerDay {
		return ErrQuotaExceeded
	}

	if prev, ok := r.pending[req.Identifier]; ok {
		r.cancelLocked(prev)
	}

	delay := req.EarliestBegin.Sub(now)
	if delay < 0 {
		delay = 0
	}
	p := &pendingRequest{
		req:       req,
		timer:     r.clock.NewTimer(delay),
		cancelled: make(chan struct{}),
	}
	r.pending[req.Identifier] = p
	r.submissions = append(r.submissions, now)
	r.stats.Submitted++

	r.wg.Add(1)
	go r.await(p, handler)
	return nil
}

func (r *Runner) Cancel(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[identifier]; ok {
		r.cancelLocked(p)
	}
}

func (r *Runner) cancelLocked(p *pendingRequest) {
	p.timer.Stop()
	close(p.cancelled)
	delete(r.pending, p.req.Identifier)
}

// Pending returns the outstanding request for identifier, if any.
func (r *Runner) Pending(identifier string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[identifier]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Pending = len(r.pending)
	return s
}

// Close cancels pending requests and waits for running handlers to return.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for _, p := range r.pending {
		r.cancelLocked(p)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Runner) pruneSubmissions(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(r.submissions) && !r.submissions[i].After(cutoff) {
		i++
	}
	r.submissions = r.submissions[i:]
}

func (r *Runner) await(p *pendingRequest, handler func(Task)) {
	defer r.wg.Done()

	select {
	case <-p.timer.C():
	case <-p.cancelled:
		return
	}

	r.mu.Lock()
	if r.pending[p.req.Identifier] != p {
		r.mu.Unlock()
		return
	}
	delete(r.pending, p.req.Identifier)
	r.stats.Started++
	r.mu.Unlock()

	t := newTask(p.req.Identifier, r.budget, r.recordCompletion)
	budget := r.clock.NewTimer(r.budget)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-budget.C():
			r.mu.Lock()
			r.stats.Expired++
			r.mu.Unlock()
			t.expire()
		case <-t.done:
			budget.Stop()
		}
	}()

	handler(t)
}

func (r *Runner) recordCompletion(id string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.stats.Succeeded++
	} else {
		r.stats.Failed++
	}
	logf("task %s completed (success=%t)", id, success)
}

type task struct {
	id         string
	budget     time.Duration
	expired    chan struct{}
	expireOnce sync.Once
	done       chan struct{}
	once       sync.Once
	onComplete func(id string, success bool)
}

func newTask(id string, budget time.Duration, onComplete func(string, bool)) *task {
	return &task{
		id:         id,
		budget:     budget,
		expired:    make(chan struct{}),
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
}

func (t *task) Identifier() string       { return t.id }
func (t *task) Budget() time.Duration    { return t.budget }
func (t *task) Expired() <-chan struct{} { return t.expired }
func (t *task) expire()                  { t.expireOnce.Do(func() { close(t.expired) }) }

func (t *task) Complete(success bool) {
	t.once.Do(func() {
		close(t.done)
		if t.onComplete != nil {
			t.onComplete(t.id, success)
		}
	})
}
