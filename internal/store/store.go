// Package store persists accepted fixes. The Store contract is append-only
// with ordered reads; SQL and in-memory implementations are provided.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/waymark/internal/geo"
)

// Store is the persisted, time-ordered history of accepted fixes.
//
// AllAscending reflects every Append that returned nil before the read began,
// ordered by capture time; fixes with equal capture times keep append order.
// A non-nil error from Append means the fix was not recorded.
type Store interface {
	Append(ctx context.Context, fix geo.Fix) error
	MostRecent(ctx context.Context) (geo.Fix, bool, error)
	AllAscending(ctx context.Context) ([]geo.Fix, error)
	ClearAll(ctx context.Context) error
}

// SessionRecorder is implemented by stores that group fixes by the tracking
// session that produced them.
type SessionRecorder interface {
	BeginSession(ctx context.Context, sessionID string, startedAt time.Time) error
	AppendInSession(ctx context.Context, sessionID string, fix geo.Fix) error
	Sessions(ctx context.Context) ([]Session, error)
}

// Session summarises one tracking session.
type Session struct {
	ID        string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	FixCount  int       `json:"fix_count"`
}

// StoreError reports a failed read or write. Callers must not treat the
// affected fix as recorded.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
