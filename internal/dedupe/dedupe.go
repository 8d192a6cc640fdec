// Package dedupe keeps an idempotency ledger of processed source objects:
// source path -> derivative path, provenance token and access URL, plus a
// count of how many times each source has been delivered.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is one ledger row
type Entry struct {
	SourcePath      string
	DerivativePath  string
	ProvenanceToken string
	SourceETag      string
	AccessURL       string
	Pipeline        string
	SeenCount       int
}

// Tracker tracks deliveries and committed derivatives
type Tracker struct {
	db      *sql.DB
	dialect string
}

// Open connects to the ledger database. postgres:// and postgresql:// DSNs use
// lib/pq; sqlite:, file: and :memory: use the pure Go SQLite driver.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Tracker, error) {
	driver, source := driverFor(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if driver == "sqlite" {
		// Every SQLite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	tracker, err := NewTracker(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("dedupe ledger ready", "driver", driver)
	}
	return tracker, nil
}

// NewTracker creates a new dedupe tracker on an open database. dialect is
// "postgres" or "sqlite".
func NewTracker(ctx context.Context, db *sql.DB, dialect string) (*Tracker, error) {
	tracker := &Tracker{db: db, dialect: dialect}

	// Create table if not exists
	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure dedupe table: %w", err)
	}

	return tracker, nil
}

func driverFor(dsn string) (string, string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:")
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:", strings.HasSuffix(dsn, ".db"):
		return "sqlite", dsn
	default:
		// key=value connection strings
		return "postgres", dsn
	}
}

// rebind converts ? placeholders to $n for postgres
func (t *Tracker) rebind(query string) string {
	if t.dialect != "postgres" {
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

// ensureTable creates the derivative_ledger table if it doesn't exist
func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS derivative_ledger (
			source_path TEXT PRIMARY KEY,
			derivative_path TEXT NOT NULL DEFAULT '',
			provenance_token TEXT NOT NULL DEFAULT '',
			source_etag TEXT NOT NULL DEFAULT '',
			access_url TEXT NOT NULL DEFAULT '',
			pipeline TEXT NOT NULL DEFAULT '',
			first_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			seen_count INTEGER NOT NULL DEFAULT 0
		)
	`

	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create derivative_ledger table: %w", err)
	}
	return nil
}

// Record records a delivery of sourcePath and returns the seen count
func (t *Tracker) Record(ctx context.Context, sourcePath string, pipeline string) (int, error) {
	// Upsert: increment seen_count if exists, insert if not
	query := t.rebind(`
		INSERT INTO derivative_ledger (source_path, pipeline, first_seen_at, last_seen_at, seen_count)
		VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 1)
		ON CONFLICT (source_path) DO UPDATE
		SET last_seen_at = CURRENT_TIMESTAMP,
		    seen_count = derivative_ledger.seen_count + 1,
		    pipeline = excluded.pipeline
		RETURNING seen_count
	`)

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, sourcePath, pipeline).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record dedupe: %w", err)
	}

	return seenCount, nil
}

// Commit stores the derivative produced for a source
func (t *Tracker) Commit(ctx context.Context, e Entry) error {
	query := t.rebind(`
		INSERT INTO derivative_ledger (source_path, derivative_path, provenance_token, source_etag, access_url, pipeline)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_path) DO UPDATE
		SET derivative_path = excluded.derivative_path,
		    provenance_token = excluded.provenance_token,
		    source_etag = excluded.source_etag,
		    access_url = excluded.access_url,
		    pipeline = excluded.pipeline
	`)

	if _, err := t.db.ExecContext(ctx, query, e.SourcePath, e.DerivativePath, e.ProvenanceToken, e.SourceETag, e.AccessURL, e.Pipeline); err != nil {
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return nil
}

// Lookup returns the ledger entry for sourcePath, or nil if none exists
func (t *Tracker) Lookup(ctx context.Context, sourcePath string) (*Entry, error) {
	query := t.rebind(`
		SELECT source_path, derivative_path, provenance_token, source_etag, access_url, pipeline, seen_count
		FROM derivative_ledger WHERE source_path = ?
	`)

	var e Entry
	err := t.db.QueryRowContext(ctx, query, sourcePath).Scan(
		&e.SourcePath, &e.DerivativePath, &e.ProvenanceToken, &e.SourceETag, &e.AccessURL, &e.Pipeline, &e.SeenCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup ledger entry: %w", err)
	}
	return &e, nil
}

// GetSeenCount retrieves the seen count for a source path
func (t *Tracker) GetSeenCount(ctx context.Context, sourcePath string) (int, error) {
	query := t.rebind(`SELECT seen_count FROM derivative_ledger WHERE source_path = ?`)

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, sourcePath).Scan(&seenCount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}

// Close closes the underlying database
func (t *Tracker) Close() error {
	return t.db.Close()
}
