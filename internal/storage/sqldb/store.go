// Package sqldb persists router traces and lifecycle events in a SQL database.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/agent-router/internal/core/domain"
	"github.com/tjfontaine/agent-router/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a SQL implementation of ports.StorageProvider.
type Store struct {
	db *sqlx.DB
}

var _ ports.StorageProvider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name registered with database/sql
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		for _, stmt := range sqlitePragmas {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute pragma: %w", err)
			}
		}
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store backed by modernc.org/sqlite.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS router_processes (
context_id TEXT PRIMARY KEY,
question TEXT NOT NULL,
status TEXT NOT NULL,
iteration_count INTEGER NOT NULL DEFAULT 0,
max_iterations INTEGER NOT NULL,
depth INTEGER NOT NULL DEFAULT 0,
response TEXT,
error TEXT,
error_type TEXT,
persistence_degraded INTEGER NOT NULL DEFAULT 0,
process TEXT NOT NULL,
created_at TIMESTAMP NOT NULL,
updated_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
id INTEGER PRIMARY KEY AUTOINCREMENT,
context_id TEXT NOT NULL,
type TEXT NOT NULL,
data TEXT,
created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_router_processes_created ON router_processes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_router_processes_status ON router_processes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_context ON lifecycle_events(context_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

type processRow struct {
	ContextID      string    `db:"context_id"`
	Question       string    `db:"question"`
	Status         string    `db:"status"`
	IterationCount int       `db:"iteration_count"`
	MaxIterations  int       `db:"max_iterations"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// SaveProcess inserts or replaces the stored trace for p.ContextID.
func (s *Store) SaveProcess(ctx context.Context, p *domain.RouterProcess) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal process: %w", err)
	}

	updated := p.CreatedAt
	if p.CompletedAt != nil {
		updated = *p.CompletedAt
	}

	query := s.db.Rebind(`INSERT INTO router_processes (
context_id, question, status, iteration_count, max_iterations, depth,
response, error, error_type, persistence_degraded, process, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(context_id) DO UPDATE SET
status=excluded.status, iteration_count=excluded.iteration_count, response=excluded.response,
error=excluded.error, error_type=excluded.error_type,
persistence_degraded=excluded.persistence_degraded, process=excluded.process,
updated_at=excluded.updated_at`)

	_, err = s.db.ExecContext(ctx, query,
		p.ContextID, p.Question, string(p.Status), len(p.IterationHistory), p.MaxIterations, p.Depth,
		p.Response, p.Error, string(p.ErrorType), p.PersistenceDegraded, string(data), p.CreatedAt, updated)
	if err != nil {
		return domain.ErrStorageUnavailable("failed to save process").WithCause(err)
	}

	return nil
}

func (s *Store) GetProcess(ctx context.Context, contextID string) (*domain.RouterProcess, error) {
	var data string
	err := s.db.GetContext(ctx, &data, s.db.Rebind(`SELECT process FROM router_processes WHERE context_id = ?`), contextID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound(fmt.Sprintf("process %s not found", contextID))
	}
	if err != nil {
		return nil, domain.ErrStorageUnavailable("failed to get process").WithCause(err)
	}

	var p domain.RouterProcess
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal process: %w", err)
	}

	return &p, nil
}

func (s *Store) ListProcesses(ctx context.Context, opts ports.ListOptions) ([]domain.ProcessSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows []processRow
	query := s.db.Rebind(`SELECT context_id, question, status, iteration_count, max_iterations, created_at, updated_at
FROM router_processes ORDER BY created_at DESC, context_id ASC LIMIT ? OFFSET ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit, opts.Offset); err != nil {
		return nil, domain.ErrStorageUnavailable("failed to list processes").WithCause(err)
	}

	summaries := make([]domain.ProcessSummary, 0, len(rows))
	for _, r := range rows {
		summaries = append(summaries, domain.ProcessSummary{
			ContextID:      r.ContextID,
			Question:       r.Question,
			Status:         domain.ProcessStatus(r.Status),
			IterationCount: r.IterationCount,
			MaxIterations:  r.MaxIterations,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
		})
	}

	return summaries, nil
}

type eventRow struct {
	ContextID string         `db:"context_id"`
	Type      string         `db:"type"`
	Data      sql.NullString `db:"data"`
	CreatedAt time.Time      `db:"created_at"`
}

func (s *Store) AppendLifecycleEvent(ctx context.Context, event *domain.LifecycleEvent) error {
	var data sql.NullString
	if event.Data != nil {
		b, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO lifecycle_events (context_id, type, data, created_at) VALUES (?, ?, ?, ?)`),
		event.ContextID, string(event.Type), data, ts)
	if err != nil {
		return domain.ErrStorageUnavailable("failed to append lifecycle event").WithCause(err)
	}

	return nil
}

// ListLifecycleEvents returns events for contextID in append order. Data is
// returned as raw JSON.
func (s *Store) ListLifecycleEvents(ctx context.Context, contextID string) ([]*domain.LifecycleEvent, error) {
	var rows []eventRow
	query := s.db.Rebind(`SELECT context_id, type, data, created_at FROM lifecycle_events WHERE context_id = ? ORDER BY id ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, contextID); err != nil {
		return nil, domain.ErrStorageUnavailable("failed to list lifecycle events").WithCause(err)
	}

	events := make([]*domain.LifecycleEvent, 0, len(rows))
	for _, r := range rows {
		ev := &domain.LifecycleEvent{
			Type:      domain.LifecycleEventType(r.Type),
			ContextID: r.ContextID,
			Timestamp: r.CreatedAt,
		}
		if r.Data.Valid {
			ev.Data = jsoniter.RawMessage(r.Data.String)
		}
		events = append(events, ev)
	}

	return events, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
