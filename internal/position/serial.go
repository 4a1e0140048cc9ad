package position

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/timeutil"
)

// Opener opens the byte stream a receiver writes NMEA sentences to.
type Opener func() (io.ReadCloser, error)

// Config controls how a SerialSource delivers fixes.
type Config struct {
	// SignificantChange selects SignificantChange mode on Start.
	SignificantChange bool
	// FilterDistance is the minimum movement in metres between fixes
	// delivered in SignificantChange mode.
	FilterDistance float64
	// Pace is the delay after each delivered fix. Replays use it to mimic
	// a receiver's 1 Hz cadence.
	Pace  time.Duration
	Clock timeutil.Clock
}

// SerialSource reads NMEA sentences from a GPS receiver.
//
// Permission is the right to open the device: the first RequestPermission
// probes it once and caches the outcome.
type SerialSource struct {
	open Opener
	cfg  Config

	events chan Event
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	permission PermissionState
	probing    bool
	mode       Mode
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSource returns a SerialSource reading from whatever open returns.
func NewSource(open Opener, cfg Config) *SerialSource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &SerialSource{
		open:       open,
		cfg:        cfg,
		events:     make(chan Event),
		closed:     make(chan struct{}),
		permission: NotDetermined,
		mode:       Continuous,
	}
}

// NewSerialSource returns a source backed by the serial device at path.
func NewSerialSource(path string, opts PortOptions, cfg Config) (*SerialSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	open := func() (io.ReadCloser, error) {
		return serial.Open(path, mode)
	}
	return NewSource(open, cfg), nil
}

// NewReplaySource returns a source that replays a file of recorded NMEA
// sentences, pausing pace after each fix. Replays always run in
// Continuous mode so every recorded fix reaches the filter.
func NewReplaySource(path string, pace time.Duration) *SerialSource {
	open := func() (io.ReadCloser, error) {
		return os.Open(path)
	}
	return NewSource(open, Config{Pace: pace})
}

func (s *SerialSource) Events() <-chan Event { return s.events }

func (s *SerialSource) Permission() PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *SerialSource) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// RequestPermission resolves the permission asynchronously. A probe already
// in flight answers for every caller.
func (s *SerialSource) RequestPermission() {
	s.mu.Lock()
	state := s.permission
	if state != NotDetermined {
		s.mu.Unlock()
		go s.emit(context.Background(), PermissionEvent{State: state})
		return
	}
	if s.probing {
		s.mu.Unlock()
		return
	}
	s.probing = true
	s.mu.Unlock()

	go func() {
		state := s.probe()
		s.mu.Lock()
		s.permission = state
		s.probing = false
		s.mu.Unlock()
		logf("permission resolved: %s", state)
		s.emit(context.Background(), PermissionEvent{State: state})
	}()
}

func (s *SerialSource) probe() PermissionState {
	port, err := s.open()
	if err != nil {
		logf("probe failed: %v", err)
		return classify(err)
	}
	if err := port.Close(); err != nil {
		logf("failed to close probed port: %v", err)
	}
	return Authorized
}

// classify maps an open or read error to the permission it implies.
func classify(err error) PermissionState {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		if portErr.Code() == serial.PermissionDenied {
			return Denied
		}
		return Restricted
	}
	if errors.Is(err, fs.ErrPermission) {
		return Denied
	}
	return Restricted
}

// Start begins reading. It returns ErrNotAuthorized unless permission is
// Authorized and is a no-op while a read loop is already running. A loop
// left over from Stop releases the port before the new one opens it.
func (s *SerialSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permission != Authorized {
		return ErrNotAuthorized
	}
	if s.cancel != nil {
		return nil
	}

	s.mode = Continuous
	if s.cfg.SignificantChange && s.cfg.FilterDistance > 0 {
		s.mode = SignificantChange
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev, done := s.done, make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.monitor(ctx, s.mode, prev, done)
	logf("started in %s mode", s.mode)
	return nil
}

// Stop cancels the read loop without waiting for it to exit.
func (s *SerialSource) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		logf("stopped")
	}
}

// Close stops the source and waits for the read loop to exit. Pending
// events are dropped.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	s.Stop()
	s.once.Do(func() { close(s.closed) })
	if done != nil {
		<-done
	}
	return nil
}

func (s *SerialSource) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

// monitor scans the port until it is cancelled or the stream ends. It waits
// for the previous loop, if any, since serial devices open exclusively.
func (s *SerialSource) monitor(ctx context.Context, mode Mode, prev, done chan struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
		if ctx.Err() != nil {
			return
		}
	}

	port, err := s.open()
	if err != nil {
		s.terminate(ctx, done, err)
		return
	}
	defer port.Close()
	// closing the port unblocks a pending Read when Stop is called
	stopClose := context.AfterFunc(ctx, func() { port.Close() })
	defer stopClose()

	var last *geo.GeoPoint
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		if ctx.Err() != nil {
			return
		}
		fix, ok, err := ParseSentence(scan.Text(), s.cfg.Clock.Now().UTC())
		if err != nil || !ok {
			continue
		}
		if mode == SignificantChange && last != nil && geo.Distance(*last, fix.Point) < s.cfg.FilterDistance {
			continue
		}
		p := fix.Point
		last = &p

		if !s.emit(ctx, FixEvent{Fix: fix}) {
			return
		}
		if s.cfg.Pace > 0 {
			select {
			case <-s.cfg.Clock.After(s.cfg.Pace):
			case <-ctx.Done():
				return
			}
		}
	}
	if ctx.Err() != nil {
		return
	}
	err = scan.Err()
	if err == nil {
		err = io.EOF
	}
	s.terminate(ctx, done, err)
}

// terminate reports an end of stream that Stop did not cause and releases
// the loop's context once the event is delivered.
func (s *SerialSource) terminate(ctx context.Context, done chan struct{}, err error) {
	revoked := classify(err) == Denied

	var cancel context.CancelFunc
	s.mu.Lock()
	if s.done == done {
		cancel = s.cancel
		s.cancel = nil
	}
	if revoked {
		s.permission = Denied
	}
	s.mu.Unlock()

	logf("stream terminated: %v", err)
	s.emit(ctx, TerminatedEvent{Err: fmt.Errorf("gps stream: %w", err), Revoked: revoked})
	if cancel != nil {
		cancel()
	}
}
