package tracking

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/position"
)

// NotificationKind identifies what a Notification reports.
type NotificationKind string

const (
	FixRecorded        NotificationKind = "fix_recorded"
	StateChanged       NotificationKind = "state_changed"
	PermissionRequired NotificationKind = "permission_required"
	StoreFailed        NotificationKind = "store_failed"
	HistoryCleared     NotificationKind = "history_cleared"
)

// Notification is delivered to observers after the controller acts.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	At   time.Time        `json:"at"`

	State    State `json:"state,omitempty"`
	Previous State `json:"previous,omitempty"`

	Fix *geo.Fix `json:"fix,omitempty"`
	// ConnectsToPrevious tells a live map whether to extend the current
	// line to Fix or start a new one.
	ConnectsToPrevious bool `json:"connects_to_previous,omitempty"`

	Permission position.PermissionState `json:"permission,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

const subscriberBuffer = 32

// Subscribe registers an observer. The channel is closed by Unsubscribe.
// Slow observers miss notifications rather than stall the controller.
func (c *Controller) Subscribe() (string, <-chan Notification) {
	id := uuid.NewString()
	ch := make(chan Notification, subscriberBuffer)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes an observer channel.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Controller) notify(n Notification) {
	n.At = c.clock.Now()
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- n:
		default:
			logf("observer %s is full, dropped %s", id, n.Kind)
		}
	}
}
