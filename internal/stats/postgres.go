package stats

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresSink writes each snapshot as a row, for an operator who wants to
// query stat history with SQL rather than tail a log file.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens dbURL and ensures the snapshot table exists.
func NewPostgresSink(ctx context.Context, dbURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("stats: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("stats: ping postgres: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS search_stats (
	id            BIGSERIAL PRIMARY KEY,
	search_id     TEXT NOT NULL,
	status        TEXT NOT NULL,
	pend_count    INTEGER NOT NULL,
	drate         DOUBLE PRECISION NOT NULL,
	hit_rate      DOUBLE PRECISION NOT NULL,
	dropped_obj   BIGINT NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: ensure schema: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Write(ctx context.Context, snap Snapshot) error {
	const q = `
INSERT INTO search_stats (search_id, status, pend_count, drate, hit_rate, dropped_obj, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q,
		snap.SearchID, snap.Status, snap.PendCount, snap.Drate, snap.HitRate, snap.DroppedObj, snap.Timestamp)
	return err
}

func (s *PostgresSink) Close() error {
	err := s.db.Close()
	logAndIgnore(err)
	return err
}
