// Package position produces raw fixes from a location provider. Providers
// report permission decisions, fixes and stream termination as typed events
// on a single channel that the tracking controller drains.
package position

import (
	"errors"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/monitoring"
)

var logf = monitoring.Prefixed("position")

// ErrNotAuthorized is returned by Start when permission has not been granted.
var ErrNotAuthorized = errors.New("location permission not granted")

// PermissionState is the provider's authorisation decision.
type PermissionState string

const (
	NotDetermined PermissionState = "not_determined"
	Denied        PermissionState = "denied"
	Restricted    PermissionState = "restricted"
	Authorized    PermissionState = "authorized"
)

// Granted reports whether fixes may be delivered.
func (p PermissionState) Granted() bool { return p == Authorized }

// Mode is the delivery mode chosen by Start.
type Mode string

const (
	Continuous Mode = "continuous"
	// SignificantChange delivers a fix only once the device has moved at
	// least the configured filter distance from the last delivered fix.
	SignificantChange Mode = "significant_change"
)

// Event is one item on a Source's event stream.
type Event interface {
	event()
}

// FixEvent carries a raw fix.
type FixEvent struct {
	Fix geo.Fix
}

// PermissionEvent resolves a RequestPermission call.
type PermissionEvent struct {
	State PermissionState
}

// TerminatedEvent reports that the provider stopped delivering fixes without
// Stop being called. Revoked is set when access to the device was withdrawn.
type TerminatedEvent struct {
	Err     error
	Revoked bool
}

func (FixEvent) event()        {}
func (PermissionEvent) event() {}
func (TerminatedEvent) event() {}

// Source is a location provider.
//
// RequestPermission never blocks; its result arrives as a PermissionEvent,
// immediately when the decision is already known. Start returns
// ErrNotAuthorized unless permission is Authorized. Stop is asynchronous and
// idempotent; fixes may still arrive on Events after it returns. The stream
// can be restarted with Start.
type Source interface {
	Permission() PermissionState
	RequestPermission()
	Start() error
	Stop()
	Mode() Mode
	Events() <-chan Event
}
