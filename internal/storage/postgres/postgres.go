// Package postgres batches per-step statistics into a PostgreSQL table with
// COPY.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
)

// DefaultBatchSize is the number of buffered steps that triggers a COPY.
const DefaultBatchSize = 500

// Table is the destination table.
const Table = "step_stats"

// Columns are written in this order.
var Columns = []string{
	"recorded_at", "sim_id", "step", "correct_flag", "car_number",
	"speed_min", "speed_max", "speed_ave", "acc_ave",
	"car_in", "car_out", "low_speed", "jam_index",
	"cars_in", "cars_out", "queue_length_ave", "queue_time_ave",
	"stop_ave", "delay_ave", "flow_rd_ave", "flow_la_ave",
}

const schema = `
CREATE TABLE IF NOT EXISTS step_stats (
	recorded_at      TIMESTAMPTZ NOT NULL,
	sim_id           TEXT NOT NULL,
	step             INTEGER NOT NULL,
	correct_flag     INTEGER NOT NULL,
	car_number       INTEGER NOT NULL,
	speed_min        DOUBLE PRECISION NOT NULL,
	speed_max        DOUBLE PRECISION NOT NULL,
	speed_ave        DOUBLE PRECISION NOT NULL,
	acc_ave          DOUBLE PRECISION NOT NULL,
	car_in           INTEGER NOT NULL,
	car_out          INTEGER NOT NULL,
	low_speed        INTEGER NOT NULL,
	jam_index        DOUBLE PRECISION NOT NULL,
	cars_in          DOUBLE PRECISION NOT NULL,
	cars_out         DOUBLE PRECISION NOT NULL,
	queue_length_ave DOUBLE PRECISION NOT NULL,
	queue_time_ave   DOUBLE PRECISION NOT NULL,
	stop_ave         DOUBLE PRECISION NOT NULL,
	delay_ave        DOUBLE PRECISION NOT NULL,
	flow_rd_ave      DOUBLE PRECISION NOT NULL,
	flow_la_ave      DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS step_stats_sim_step ON step_stats (sim_id, step);`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// NewPool connects to databaseURL with small pool limits.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 5
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}

// Store buffers one row per step and copies them in batches.
type Store struct {
	db        DB
	batchSize int
	now       func() time.Time

	mu      sync.Mutex
	pending [][]any
	written int64
}

// New returns a Store. batchSize <= 0 uses DefaultBatchSize.
func New(db DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize, now: time.Now}
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create %s: %w", Table, err)
	}
	return nil
}

// Emit buffers the step and copies the batch once it is full.
func (s *Store) Emit(ctx context.Context, out *reconstruct.StepOutput) error {
	if out.Stats == nil {
		return nil
	}
	st := out.Stats
	g := st.Global
	row := []any{
		s.now(), out.SimID, out.Step, out.CorrectFlag, st.CarNumber,
		st.SpeedMin, st.SpeedMax, st.SpeedAve, st.AccAve,
		st.CarIn, st.CarOut, st.LowSpeed, st.JamIndex,
		g.CarsIn, g.CarsOut, g.QueueLengthAve, g.QueueTimeAve,
		g.StopAve, g.DelayAve, g.Flow.RoadAve, g.Flow.LaneAve,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, row)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush copies whatever is buffered.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Store) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	n, err := s.db.CopyFrom(ctx, pgx.Identifier{Table}, Columns, pgx.CopyFromRows(s.pending))
	if err != nil {
		// Rows stay buffered for the next attempt.
		return fmt.Errorf("insert batch of %d: %w", len(s.pending), err)
	}
	s.written += n
	monitoring.Debugf("[postgres] copied %d rows", n)
	s.pending = s.pending[:0]
	return nil
}

// Pending returns the number of buffered rows.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Written returns the number of rows copied so far.
func (s *Store) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
