// Package tracking implements the permission and tracking state machine. A
// single goroutine (Run) owns all state: position events, user commands and
// background wake signals are serialised through it.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/monitoring"
	"github.com/banshee-data/waymark/internal/position"
	"github.com/banshee-data/waymark/internal/routes"
	"github.com/banshee-data/waymark/internal/store"
	"github.com/banshee-data/waymark/internal/timeutil"
)

var logf = monitoring.Prefixed("tracking")

// ErrNotRunning is returned by commands issued after Run has exited.
var ErrNotRunning = errors.New("tracking controller is not running")

// State is the controller's position in the tracking state machine.
type State string

const (
	Idle               State = "idle"
	AwaitingPermission State = "awaiting_permission"
	Tracking           State = "tracking"
	Stopped            State = "stopped"
)

// Rescheduler keeps background wake-ups armed while tracking.
type Rescheduler interface {
	Rearm()
	Cancel()
}

type noopRescheduler struct{}

func (noopRescheduler) Rearm()  {}
func (noopRescheduler) Cancel() {}

// Config holds the controller's thresholds.
type Config struct {
	FilterDistance float64
	MaxGap         float64
	Clock          timeutil.Clock
}

// Status is a point-in-time view of the controller.
type Status struct {
	State      State                    `json:"state"`
	Permission position.PermissionState `json:"permission"`
	Mode       position.Mode            `json:"mode,omitempty"`
	Suspended  bool                     `json:"suspended"`
	SessionID  string                   `json:"session_id,omitempty"`
	LastFix    *geo.Fix                 `json:"last_fix,omitempty"`
	Recorded   int64                    `json:"fixes_recorded"`
}

type commandKind int

const (
	cmdRequestPermission commandKind = iota
	cmdStop
	cmdToggle
	cmdClearHistory
	cmdStatus
)

type command struct {
	kind  commandKind
	ctx   context.Context
	reply chan commandResult
}

type commandResult struct {
	status Status
	err    error
}

// Controller drives a position.Source and records accepted fixes.
type Controller struct {
	source      position.Source
	store       store.Store
	sessions    store.SessionRecorder
	rescheduler Rescheduler
	filter      *SampleFilter
	maxGap      float64
	clock       timeutil.Clock

	commands chan command
	resume   chan struct{}
	suspend  chan struct{}
	done     chan struct{}
	runOnce  sync.Once

	subMu       sync.Mutex
	subscribers map[string]chan Notification

	// owned by Run
	state        State
	suspended    bool
	session      string
	lastRecorded *geo.GeoPoint
	recorded     int64
}

// NewController returns a controller in the Idle state. Call Run to start
// processing. If st also implements store.SessionRecorder, fixes are
// grouped by tracking session.
func NewController(src position.Source, st store.Store, cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.FilterDistance <= 0 {
		cfg.FilterDistance = DefaultFilterDistance
	}
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = routes.DefaultMaxGap
	}
	c := &Controller{
		source:      src,
		store:       st,
		rescheduler: noopRescheduler{},
		filter:      NewSampleFilter(cfg.FilterDistance),
		maxGap:      cfg.MaxGap,
		clock:       cfg.Clock,
		commands:    make(chan command),
		// Buffered channels of size 1 coalesce repeated wake signals.
		resume:      make(chan struct{}, 1),
		suspend:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		subscribers: make(map[string]chan Notification),
		state:       Idle,
	}
	if rec, ok := st.(store.SessionRecorder); ok {
		c.sessions = rec
	}
	return c
}

// SetRescheduler installs the background rescheduler. It must be called
// before Run.
func (c *Controller) SetRescheduler(r Rescheduler) {
	if r == nil {
		r = noopRescheduler{}
	}
	c.rescheduler = r
}

// Run processes events until ctx is cancelled. It may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("tracking controller already running")
	}
	defer close(c.done)

	c.seed(ctx)
	logf("controller running (filter %.0fm, max gap %.0fm)", c.filter.Distance, c.maxGap)

	events := c.source.Events()
	for {
		select {
		case <-ctx.Done():
			c.source.Stop()
			logf("controller stopping: %v", ctx.Err())
			return ctx.Err()
		case ev := <-events:
			c.handleEvent(ctx, ev)
		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
		case <-c.resume:
			c.handleResume()
		case <-c.suspend:
			c.handleSuspend()
		}
	}
}

// seed restores the filter reference from the newest stored fix so a
// restart does not re-record the spot the device is sitting on.
func (c *Controller) seed(ctx context.Context) {
	fix, ok, err := c.store.MostRecent(ctx)
	if err != nil {
		logf("failed to load most recent fix: %v", err)
		return
	}
	if !ok {
		return
	}
	c.filter.Restore(&fix)
	p := fix.Point
	c.lastRecorded = &p
}

// RequestPermission asks for location permission and starts tracking once
// it is granted.
func (c *Controller) RequestPermission(ctx context.Context) (Status, error) {
	return c.do(ctx, cmdRequestPermission)
}

// Stop ends tracking and cancels the pending background wake. Fixes that
// arrive after Stop returns are discarded.
func (c *Controller) Stop(ctx context.Context) (Status, error) {
	return c.do(ctx, cmdStop)
}

// Toggle stops an active or pending session, otherwise requests permission.
func (c *Controller) Toggle(ctx context.Context) (Status, error) {
	return c.do(ctx, cmdToggle)
}

// ClearHistory deletes every stored fix and resets the sample filter.
func (c *Controller) ClearHistory(ctx context.Context) (Status, error) {
	return c.do(ctx, cmdClearHistory)
}

// Status returns the controller's current state. Because it is answered by
// the Run goroutine, every event received before the call has been handled.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	return c.do(ctx, cmdStatus)
}

// Resume restarts tracking that was suspended by Suspend or by the stream
// ending. It never blocks.
func (c *Controller) Resume() {
	select {
	case c.resume <- struct{}{}:
	default:
		logf("resume skipped (already pending)")
	}
}

// Suspend stops the source without cancelling the background wake, so the
// next wake resumes tracking. It never blocks.
func (c *Controller) Suspend() {
	select {
	case c.suspend <- struct{}{}:
	default:
		logf("suspend skipped (already pending)")
	}
}

func (c *Controller) do(ctx context.Context, kind commandKind) (Status, error) {
	cmd := command{kind: kind, ctx: ctx, reply: make(chan commandResult, 1)}
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.done:
		return Status{}, ErrNotRunning
	}
	select {
	case res := <-cmd.reply:
		return res.status, res.err
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdRequestPermission:
		c.requestPermission()
	case cmdStop:
		c.stop()
	case cmdToggle:
		if c.state == Tracking || c.state == AwaitingPermission {
			c.stop()
		} else {
			c.requestPermission()
		}
	case cmdClearHistory:
		err = c.clearHistory(cmd.ctx)
	case cmdStatus:
	}
	cmd.reply <- commandResult{status: c.snapshot(), err: err}
}

func (c *Controller) handleEvent(ctx context.Context, ev position.Event) {
	switch ev := ev.(type) {
	case position.FixEvent:
		c.handleFix(ctx, ev.Fix)
	case position.PermissionEvent:
		c.handlePermission(ev.State)
	case position.TerminatedEvent:
		c.handleTerminated(ev)
	default:
		logf("ignoring unknown event %T", ev)
	}
}

func (c *Controller) setState(next State) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	logf("state %s -> %s", prev, next)
	c.notify(Notification{Kind: StateChanged, State: next, Previous: prev})
}

func (c *Controller) requestPermission() {
	switch c.state {
	case Idle, Stopped:
	default:
		return
	}
	c.suspended = false
	c.setState(AwaitingPermission)
	if c.source.Permission().Granted() {
		c.startTracking()
		return
	}
	c.source.RequestPermission()
}

func (c *Controller) handlePermission(state position.PermissionState) {
	if c.state != AwaitingPermission {
		logf("ignoring permission %s in state %s", state, c.state)
		return
	}
	switch state {
	case position.Authorized:
		c.startTracking()
	case position.NotDetermined:
		// still undecided; wait for the next answer
	default:
		c.permissionLost(state)
	}
}

func (c *Controller) permissionLost(state position.PermissionState) {
	c.setState(Idle)
	c.notify(Notification{Kind: PermissionRequired, Permission: state})
}

func (c *Controller) startTracking() {
	if err := c.source.Start(); err != nil {
		logf("failed to start position source: %v", err)
		c.permissionLost(c.source.Permission())
		return
	}
	c.session = uuid.NewString()
	if c.sessions != nil {
		if err := c.sessions.BeginSession(context.Background(), c.session, c.clock.Now()); err != nil {
			logf("failed to record session %s: %v", c.session, err)
		}
	}
	c.setState(Tracking)
}

func (c *Controller) stop() {
	if c.state == Idle {
		return
	}
	c.source.Stop()
	c.rescheduler.Cancel()
	c.suspended = false
	c.setState(Stopped)
}

func (c *Controller) handleResume() {
	if c.state != Stopped || !c.suspended {
		return
	}
	logf("resuming after suspension")
	c.requestPermission()
}

func (c *Controller) handleSuspend() {
	if c.state != Tracking {
		return
	}
	c.source.Stop()
	c.suspended = true
	logf("suspending until the next background wake")
	c.setState(Stopped)
}

// handleTerminated reacts to the position stream ending on its own. Only a
// revoked permission returns to Idle or AwaitingPermission. Any other end
// moves to Stopped marked suspended, so the pending background wake
// restarts tracking instead of waiting for a new start command.
func (c *Controller) handleTerminated(ev position.TerminatedEvent) {
	if c.state != Tracking {
		return
	}
	logf("position stream ended: %v", ev.Err)
	c.source.Stop()
	if ev.Revoked {
		c.rescheduler.Cancel()
		c.suspended = false
		c.permissionLost(c.source.Permission())
		return
	}
	c.suspended = true
	c.setState(Stopped)
}

func (c *Controller) handleFix(ctx context.Context, fix geo.Fix) {
	if c.state != Tracking {
		return
	}
	prev := c.filter.Last()
	accepted, ok := c.filter.Accept(fix)
	if !ok {
		return
	}

	if err := c.record(ctx, accepted); err != nil {
		c.filter.Restore(prev)
		logf("failed to record fix %s: %v", accepted, err)
		c.notify(Notification{Kind: StoreFailed, Fix: &accepted, Error: err.Error()})
		return
	}

	connects := routes.ShouldConnect(c.lastRecorded, accepted.Point, c.maxGap)
	p := accepted.Point
	c.lastRecorded = &p
	c.recorded++
	c.notify(Notification{Kind: FixRecorded, Fix: &accepted, ConnectsToPrevious: connects})
	c.rescheduler.Rearm()
}

func (c *Controller) record(ctx context.Context, fix geo.Fix) error {
	if c.sessions != nil {
		return c.sessions.AppendInSession(ctx, c.session, fix)
	}
	return c.store.Append(ctx, fix)
}

func (c *Controller) clearHistory(ctx context.Context) error {
	if err := c.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	c.filter.Clear()
	c.lastRecorded = nil
	if c.session != "" && c.sessions != nil && c.state == Tracking {
		if err := c.sessions.BeginSession(ctx, c.session, c.clock.Now()); err != nil {
			logf("failed to re-record session %s: %v", c.session, err)
		}
	}
	logf("history cleared")
	c.notify(Notification{Kind: HistoryCleared})
	return nil
}

func (c *Controller) snapshot() Status {
	st := Status{
		State:      c.state,
		Permission: c.source.Permission(),
		Suspended:  c.suspended,
		Recorded:   c.recorded,
	}
	if c.state == Tracking {
		st.Mode = c.source.Mode()
		st.SessionID = c.session
	}
	if last := c.filter.Last(); last != nil {
		f := *last
		st.LastFix = &f
	}
	return st
}
