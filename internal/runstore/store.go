package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/restylelabs/restyle/internal/config"
	_ "modernc.org/sqlite"
)

// Run is one recorded pipeline invocation.
type Run struct {
	RunID      string
	SourcePath string
	Style      string
	Policy     string
	State      string
	OutputPath string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// SegmentRecord is the durable outcome of one segment, keyed by index so
// external tools can audit or re-stitch a run from its artifacts.
type SegmentRecord struct {
	ID           int64
	RunID        string
	Index        int
	State        string
	DurationMS   int64
	ArtifactPath string
	Error        string
	CreatedAt    time.Time
}

// Store wraps a SQLite-backed record of runs and their segments.
type Store struct {
	db    *sql.DB
	cfg   config.RunStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the run store according to config. Ephemeral mode keeps
// no database and turns every write into a no-op.
func Open(ctx context.Context, cfg config.RunStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Mode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("run store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("run store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    source_path TEXT,
    style TEXT,
    policy TEXT,
    state TEXT,
    output_path TEXT,
    created_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    state TEXT,
    duration_ms INTEGER,
    artifact_path TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_run_idx ON segments(run_id, idx);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records a run in its initial state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, source_path, style, policy, state, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SourcePath, run.Style, run.Policy, run.State, s.clock().UTC())
	return err
}

// RecordSegment writes one segment outcome.
func (s *Store) RecordSegment(ctx context.Context, rec SegmentRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments(run_id, idx, state, duration_ms, artifact_path, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Index, rec.State, rec.DurationMS, rec.ArtifactPath, rec.Error, s.clock().UTC())
	return err
}

// FinishRun records the terminal state and output path of a run.
func (s *Store) FinishRun(ctx context.Context, runID, state, outputPath string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, output_path = ?, finished_at = ? WHERE run_id = ?`,
		state, outputPath, s.clock().UTC(), runID)
	return err
}

// ListRunSegments retrieves every segment record for a run in index order.
func (s *Store) ListRunSegments(ctx context.Context, runID string) ([]SegmentRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, idx, state, duration_ms, artifact_path, error, created_at
		 FROM segments WHERE run_id = ? ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SegmentRecord
	for rows.Next() {
		var rec SegmentRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Index, &rec.State, &rec.DurationMS, &rec.ArtifactPath, &rec.Error, &created); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for segment %d of run %s: %w", rec.Index, rec.RunID, err)
		}
		rec.CreatedAt = ts
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies the configured run cap, dropping the oldest runs and their
// segment rows via the cascading foreign key.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.MaxRuns <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
		SELECT run_id FROM runs ORDER BY created_at DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxRuns)
	return err
}
