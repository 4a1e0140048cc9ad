package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/waymark/internal/geo"
	"github.com/banshee-data/waymark/internal/monitoring"
	"github.com/banshee-data/waymark/internal/timeutil"
)

//go:embed schema_postgres.sql
var postgresSchema string

var logf = monitoring.Prefixed("store")

// Dialect selects placeholder syntax for the underlying driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// SQLStore is a Store backed by database/sql. SQLite databases are migrated
// with golang-migrate; Postgres databases are initialised from an embedded
// schema.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	label   string
	clock   timeutil.Clock
}

// NewSQLStore wraps an already opened database. It does not create tables.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, label: "fixes", clock: timeutil.RealClock{}}
}

// Open opens dsn and brings its schema up to date. postgres:// and
// postgresql:// DSNs use pgx; anything else is treated as a SQLite path.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	s, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens (creating if needed) the SQLite database at path with WAL
// journaling. Every pooled connection gets the same pragmas.
func OpenSQLite(path string) (*SQLStore, error) {
	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
	} {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify sqlite connection to %q: %w", path, err)
	}
	s := NewSQLStore(db, SQLite)
	s.label = path
	return s, nil
}

// OpenPostgres connects with pgx and creates the schema if it is missing.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify postgres connection: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise postgres schema: %w", err)
	}
	s := NewSQLStore(db, Postgres)
	s.label = "postgres"
	return s, nil
}

// SetClock replaces the clock used for recorded_at timestamps.
func (s *SQLStore) SetClock(c timeutil.Clock) { s.clock = c }

// DB exposes the underlying handle for admin tooling.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Append(ctx context.Context, fix geo.Fix) error {
	return s.AppendInSession(ctx, "", fix)
}

func (s *SQLStore) AppendInSession(ctx context.Context, sessionID string, fix geo.Fix) error {
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO fixes (session_id, latitude, longitude, captured_at_ns, recorded_at_ns)
			VALUES (?, ?, ?, ?, ?)`),
			sessionID, fix.Point.Latitude, fix.Point.Longitude,
			fix.CapturedAt.UnixNano(), s.clock.Now().UnixNano(),
		)
		return err
	})
	return wrap("append", err)
}

func (s *SQLStore) MostRecent(ctx context.Context) (geo.Fix, bool, error) {
	var lat, lon float64
	var ns int64
	err := s.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, captured_at_ns
		FROM fixes
		ORDER BY captured_at_ns DESC, fix_id DESC
		LIMIT 1`).Scan(&lat, &lon, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return geo.Fix{}, false, nil
	}
	if err != nil {
		return geo.Fix{}, false, wrap("most recent", err)
	}
	return geo.Fix{
		Point:      geo.GeoPoint{Latitude: lat, Longitude: lon},
		CapturedAt: time.Unix(0, ns).UTC(),
	}, true, nil
}

func (s *SQLStore) AllAscending(ctx context.Context) ([]geo.Fix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT latitude, longitude, captured_at_ns
		FROM fixes
		ORDER BY captured_at_ns ASC, fix_id ASC`)
	if err != nil {
		return nil, wrap("all ascending", err)
	}
	defer rows.Close()

	var fixes []geo.Fix
	for rows.Next() {
		var lat, lon float64
		var ns int64
		if err := rows.Scan(&lat, &lon, &ns); err != nil {
			return nil, wrap("all ascending", err)
		}
		fixes = append(fixes, geo.Fix{
			Point:      geo.GeoPoint{Latitude: lat, Longitude: lon},
			CapturedAt: time.Unix(0, ns).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("all ascending", err)
	}
	return fixes, nil
}

func (s *SQLStore) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("clear", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logf("warning: failed to rollback transaction: %v", err)
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM fixes`)
	if err != nil {
		return wrap("clear", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracking_sessions`); err != nil {
		return wrap("clear", err)
	}
	if err := tx.Commit(); err != nil {
		return wrap("clear", err)
	}
	n, _ := res.RowsAffected()
	logf("cleared %d fixes", n)
	return nil
}

func (s *SQLStore) BeginSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tracking_sessions (session_id, started_at_ns) VALUES (?, ?)`),
		sessionID, startedAt.UnixNano())
	return wrap("begin session", err)
}

func (s *SQLStore) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at_ns, COUNT(f.fix_id)
		FROM tracking_sessions s
		LEFT JOIN fixes f ON f.session_id = s.session_id
		GROUP BY s.session_id, s.started_at_ns
		ORDER BY s.started_at_ns ASC`)
	if err != nil {
		return nil, wrap("sessions", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var ns int64
		if err := rows.Scan(&sess.ID, &ns, &sess.FixCount); err != nil {
			return nil, wrap("sessions", err)
		}
		sess.StartedAt = time.Unix(0, ns).UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("sessions", err)
	}
	return sessions, nil
}

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(ctx context.Context, fn func() error) error {
	const attempts = 5
	backoff := 20 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
