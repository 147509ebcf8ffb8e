// Package store keeps a SQLite history of analysis runs and serves cached
// results for inputs that were already analysed with the same options.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"github.com/RowanDark/unravel/internal/extract"
)

const driverName = "sqlite"

// ErrNotFound is returned when no run matches.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	digest      TEXT NOT NULL,
	size        INTEGER NOT NULL,
	options_key TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	final_count INTEGER NOT NULL,
	result      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_digest ON runs (digest, options_key);
CREATE INDEX IF NOT EXISTS runs_created ON runs (created_at);
`

// Run is one persisted analysis.
type Run struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Digest     string          `json:"digest"`
	Size       int64           `json:"size"`
	OptionsKey string          `json:"optionsKey"`
	CreatedAt  time.Time       `json:"createdAt"`
	Result     *extract.Result `json:"result,omitempty"`
}

// Summary is a Run without its result payload.
type Summary struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
	FinalCount int       `json:"finalCount"`
}

// Store wraps the history database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise store schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists run, filling in a missing ID and creation time.
func (s *Store) Save(ctx context.Context, run *Run) error {
	if run == nil || run.Result == nil {
		return errors.New("run and result are required")
	}
	if strings.TrimSpace(run.Digest) == "" {
		return errors.New("run digest is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, digest, size, options_key, created_at, final_count, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Digest, run.Size, run.OptionsKey,
		run.CreatedAt.UnixNano(), len(run.Result.Final), payload,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// Lookup returns the most recent run for digest analysed with optionsKey.
func (s *Store) Lookup(ctx context.Context, digest, optionsKey string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, digest, size, options_key, created_at, result FROM runs
		 WHERE digest = ? AND options_key = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		digest, optionsKey)
	return scanRun(row)
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, digest, size, options_key, created_at, result FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// List returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, digest, size, created_at, final_count FROM runs
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.ID, &sum.Source, &sum.Digest, &sum.Size, &created, &sum.FinalCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanRun(row *sql.Row) (*Run, error) {
	var (
		run     Run
		created int64
		payload []byte
	)
	err := row.Scan(&run.ID, &run.Source, &run.Digest, &run.Size, &run.OptionsKey, &created, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	run.Result = &extract.Result{}
	if err := json.Unmarshal(payload, run.Result); err != nil {
		return nil, fmt.Errorf("decode result of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// OptionsKey fingerprints the parts of opts that change analysis output.
// The worker count and logger are excluded.
func OptionsKey(opts extract.Options) string {
	opts.Workers = 0
	opts.Logger = nil
	raw, err := json.Marshal(opts)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
