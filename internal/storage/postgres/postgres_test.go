package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/stats"
)

type fakeDB struct {
	execs  []string
	tables []string
	rows   [][]any
	err    error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), f.err
}

func (f *fakeDB) CopyFrom(_ context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.tables = append(f.tables, table.Sanitize())
	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		if len(vals) != len(cols) {
			return n, errors.New("column count mismatch")
		}
		f.rows = append(f.rows, vals)
		n++
	}
	return n, src.Err()
}

func out(sim string, step int) *reconstruct.StepOutput {
	rec := stats.NewRecord()
	rec.SpeedAve = 36
	rec.CarNumber = 4
	return &reconstruct.StepOutput{SimID: sim, Step: step, CorrectFlag: 1, Stats: rec}
}

func TestEmitBatches(t *testing.T) {
	db := &fakeDB{}
	s := New(db, 3)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, out("a", 0)))
	require.NoError(t, s.Emit(ctx, out("a", 1)))
	assert.Empty(t, db.rows)
	assert.Equal(t, 2, s.Pending())

	require.NoError(t, s.Emit(ctx, out("a", 2)))
	require.Len(t, db.rows, 3)
	assert.Zero(t, s.Pending())
	assert.Equal(t, []string{`"step_stats"`}, db.tables)

	row := db.rows[2]
	assert.Equal(t, fixed, row[0])
	assert.Equal(t, "a", row[1])
	assert.Equal(t, 2, row[2])
	assert.Equal(t, 4, row[4])
	assert.Equal(t, 36.0, row[7])

	require.NoError(t, s.Emit(ctx, out("b", 0)))
	require.NoError(t, s.Flush(ctx))
	assert.Len(t, db.rows, 4)
	assert.Equal(t, int64(4), s.Written())
	require.NoError(t, s.Flush(ctx))
	assert.Len(t, db.tables, 2)
}

func TestEmitSkipsMissingStats(t *testing.T) {
	s := New(&fakeDB{}, 1)
	require.NoError(t, s.Emit(context.Background(), &reconstruct.StepOutput{SimID: "a"}))
	assert.Zero(t, s.Pending())
}

func TestFlushErrorKeepsRows(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	s := New(db, 10)
	ctx := context.Background()
	require.NoError(t, s.Emit(ctx, out("a", 0)))

	err := s.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, s.Pending())

	db.err = nil
	require.NoError(t, s.Flush(ctx))
	assert.Len(t, db.rows, 1)
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, New(db, 0).EnsureSchema(context.Background()))
	require.Len(t, db.execs, 1)
	assert.True(t, strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS step_stats"))
	for _, c := range Columns {
		assert.Contains(t, db.execs[0], c)
	}

	db.err = errors.New("permission denied")
	assert.Error(t, New(db, 0).EnsureSchema(context.Background()))
}

func TestNewPoolBadURL(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://%zz")
	assert.Error(t, err)
}
