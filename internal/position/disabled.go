package position

import "sync"

// DisabledSource stands in when no receiver is configured (-disable-gps).
// Permission is always Restricted and no fixes are produced.
type DisabledSource struct {
	events chan Event
	once   sync.Once
	closed chan struct{}
}

func NewDisabledSource() *DisabledSource {
	return &DisabledSource{events: make(chan Event), closed: make(chan struct{})}
}

func (d *DisabledSource) Permission() PermissionState { return Restricted }

func (d *DisabledSource) RequestPermission() {
	go func() {
		select {
		case d.events <- PermissionEvent{State: Restricted}:
		case <-d.closed:
		}
	}()
}

func (d *DisabledSource) Start() error         { return ErrNotAuthorized }
func (d *DisabledSource) Stop()                {}
func (d *DisabledSource) Mode() Mode           { return Continuous }
func (d *DisabledSource) Events() <-chan Event { return d.events }

// Close releases any goroutine still waiting to deliver a permission result.
func (d *DisabledSource) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}
