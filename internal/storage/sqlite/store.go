// Package sqlite persists completed steps, their statistics and a snapshot
// of the road network of every simulation run in a SQLite database.
//
// Each worker start opens a run (a uuid) for its simulation; steps emitted
// for a simulation with no open run open one without a map snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/telemetry"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store is a reconstruct.Sink backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	mu   sync.Mutex
	runs map[string]string // sim id -> open run id
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; WAL readers still proceed.
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, runs: make(map[string]string)}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	monitoring.Logf("[sqlite] opened %s", path)
	return s, nil
}

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Run is one session of a simulation.
type Run struct {
	RunID     string `json:"run_id"`
	SimID     string `json:"sim_id"`
	StartedAt int64  `json:"started_at"`
}

// StartRun opens a new run for simID and records model's roads and
// intersections against it. Later steps for simID are filed under the new
// run.
func (s *Store) StartRun(ctx context.Context, simID string, model *roadnet.Model) (string, error) {
	runID := uuid.New().String()
	err := retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := insertRun(ctx, tx, runID, simID); err != nil {
			return err
		}
		if model != nil {
			if err := insertMap(ctx, tx, runID, model); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", fmt.Errorf("start run for sim %s: %w", simID, err)
	}

	s.mu.Lock()
	s.runs[simID] = runID
	s.mu.Unlock()
	monitoring.Logf("[sqlite] sim %s: run %s started", simID, runID)
	return runID, nil
}

// RunID returns the open run of simID.
func (s *Store) RunID(simID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.runs[simID]
	return id, ok
}

func insertRun(ctx context.Context, tx *sql.Tx, runID, simID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, sim_id, started_at) VALUES (?, ?, ?)`,
		runID, simID, time.Now().UnixNano())
	return err
}

func insertMap(ctx context.Context, tx *sql.Tx, runID string, model *roadnet.Model) error {
	for _, b := range model.Baselines() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO map_roads (run_id, road_id, lanes_left, lanes_right, lane_width, geometry)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, b.RoadID, b.MaxLeft, b.MaxRight, b.Width, EncodeGeometry(b.Points)); err != nil {
			return fmt.Errorf("insert road %d: %w", b.RoadID, err)
		}
	}
	for _, c := range model.Crosses() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO map_crosses (run_id, cross_id, x, y) VALUES (?, ?, ?, ?)`,
			runID, c.CrossID, c.Center.X(), c.Center.Y()); err != nil {
			return fmt.Errorf("insert cross %d: %w", c.CrossID, err)
		}
	}
	return nil
}

// EncodeGeometry encodes a baseline as a polyline string.
func EncodeGeometry(ls orb.LineString) string {
	coords := make([][]float64, len(ls))
	for i, p := range ls {
		coords[i] = []float64{p.X(), p.Y()}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodeGeometry reverses EncodeGeometry.
func DecodeGeometry(s string) (orb.LineString, error) {
	coords, _, err := polyline.DecodeCoords([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	ls := make(orb.LineString, len(coords))
	for i, c := range coords {
		ls[i] = orb.Point{c[0], c[1]}
	}
	return ls, nil
}

// Emit stores one completed step, its vehicles and phases, and its per-lane
// flows.
func (s *Store) Emit(ctx context.Context, out *reconstruct.StepOutput) error {
	runID, ok := s.RunID(out.SimID)
	if !ok {
		var err error
		if runID, err = s.StartRun(ctx, out.SimID, nil); err != nil {
			return err
		}
	}

	info, err := json.Marshal(out.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats for step %d: %w", out.Step, err)
	}

	vehicles, phases := out.Vehicles, out.Phases
	if vehicles == nil {
		vehicles = []*telemetry.Vehicle{}
	}
	if phases == nil {
		phases = []*telemetry.Phase{}
	}
	vehiclesJSON, err := json.Marshal(vehicles)
	if err != nil {
		return fmt.Errorf("marshal vehicles for step %d: %w", out.Step, err)
	}
	phasesJSON, err := json.Marshal(phases)
	if err != nil {
		return fmt.Errorf("marshal phases for step %d: %w", out.Step, err)
	}

	var speedAve, accAve, jam float64
	var carIn, carOut, low int
	if st := out.Stats; st != nil {
		speedAve, accAve, jam = st.SpeedAve, st.AccAve, st.JamIndex
		carIn, carOut, low = st.CarIn, st.CarOut, st.LowSpeed
	}

	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO steps (
				run_id, step, correct_flag, vehicle_count, phase_count,
				speed_ave, acc_ave, car_in, car_out, low_speed, jam_index,
				info_stat, vehicles, phases, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, out.Step, out.CorrectFlag, len(vehicles), len(phases),
			speedAve, accAve, carIn, carOut, low, jam,
			string(info), string(vehiclesJSON), string(phasesJSON), time.Now().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert step %d: %w", out.Step, err)
		}

		if out.Stats != nil {
			for _, road := range out.Stats.Global.Flow.Data {
				for _, lane := range road.Lanes {
					if _, err := tx.ExecContext(ctx, `
						INSERT OR REPLACE INTO lane_flows (run_id, step, road_id, lane_id, flow)
						VALUES (?, ?, ?, ?, ?)`,
						runID, out.Step, road.RoadID, lane.LaneID, lane.Flow); err != nil {
						return fmt.Errorf("insert flow %d/%d: %w", road.RoadID, lane.LaneID, err)
					}
				}
			}
		}
		return tx.Commit()
	})
}

// retryOnBusy retries fn while SQLite reports the database locked.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(i+1) * 20 * time.Millisecond)
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
