package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/waymark/internal/geo"
)

// MemoryStore is an in-process Store used by tests and by -dev runs without
// a database file.
type MemoryStore struct {
	mu       sync.RWMutex
	fixes    []memoryFix
	sessions []Session
}

type memoryFix struct {
	fix     geo.Fix
	session string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, fix geo.Fix) error {
	return m.AppendInSession(ctx, "", fix)
}

// AppendInSession inserts fix after every fix captured at or before it.
func (m *MemoryStore) AppendInSession(ctx context.Context, sessionID string, fix geo.Fix) error {
	if err := ctx.Err(); err != nil {
		return wrap("append", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	i := sort.Search(len(m.fixes), func(i int) bool {
		return m.fixes[i].fix.CapturedAt.After(fix.CapturedAt)
	})
	m.fixes = append(m.fixes, memoryFix{})
	copy(m.fixes[i+1:], m.fixes[i:])
	m.fixes[i] = memoryFix{fix: fix, session: sessionID}

	for j := range m.sessions {
		if m.sessions[j].ID == sessionID {
			m.sessions[j].FixCount++
		}
	}
	return nil
}

func (m *MemoryStore) MostRecent(ctx context.Context) (geo.Fix, bool, error) {
	if err := ctx.Err(); err != nil {
		return geo.Fix{}, false, wrap("most recent", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.fixes) == 0 {
		return geo.Fix{}, false, nil
	}
	return m.fixes[len(m.fixes)-1].fix, true, nil
}

func (m *MemoryStore) AllAscending(ctx context.Context) ([]geo.Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("all ascending", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]geo.Fix, len(m.fixes))
	for i, f := range m.fixes {
		out[i] = f.fix
	}
	return out, nil
}

func (m *MemoryStore) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrap("clear", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixes = nil
	m.sessions = nil
	return nil
}

func (m *MemoryStore) BeginSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return wrap("begin session", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, Session{ID: sessionID, StartedAt: startedAt})
	return nil
}

func (m *MemoryStore) Sessions(ctx context.Context) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrap("sessions", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Session(nil), m.sessions...), nil
}

// Len returns the number of stored fixes.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fixes)
}
