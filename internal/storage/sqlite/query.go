package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
)

// StepRow is a stored step.
type StepRow struct {
	RunID        string        `json:"run_id"`
	Step         int           `json:"step"`
	CorrectFlag  int           `json:"correct_flag"`
	VehicleCount int           `json:"vehicle_count"`
	PhaseCount   int           `json:"phase_count"`
	Stats        *stats.Record `json:"info_stat"`

	Vehicles []*telemetry.Vehicle `json:"vehicles"`
	Phases   []*telemetry.Phase   `json:"phases"`
}

// MapRoad is a stored road of a run's map snapshot.
type MapRoad struct {
	RoadID     int            `json:"road_id"`
	LanesLeft  int            `json:"lanes_left"`
	LanesRight int            `json:"lanes_right"`
	LaneWidth  float64        `json:"lane_width"`
	Points     orb.LineString `json:"points"`
}

// LaneFlow is one stored lane flow sample.
type LaneFlow struct {
	Step   int     `json:"step"`
	RoadID int     `json:"road_id"`
	LaneID int     `json:"lane_id"`
	Flow   float64 `json:"flow"`
}

// Runs lists every run, most recent first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sim_id, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.SimID, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Steps returns the steps of a run in step order.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step, correct_flag, vehicle_count, phase_count, info_stat, vehicles, phases
		FROM steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRow
	for rows.Next() {
		var r StepRow
		var info, vehicles, phases string
		if err := rows.Scan(&r.RunID, &r.Step, &r.CorrectFlag, &r.VehicleCount, &r.PhaseCount, &info, &vehicles, &phases); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		r.Stats = stats.NewRecord()
		if err := json.Unmarshal([]byte(info), r.Stats); err != nil {
			return nil, fmt.Errorf("decode stats of step %d: %w", r.Step, err)
		}
		if err := json.Unmarshal([]byte(vehicles), &r.Vehicles); err != nil {
			return nil, fmt.Errorf("decode vehicles of step %d: %w", r.Step, err)
		}
		if err := json.Unmarshal([]byte(phases), &r.Phases); err != nil {
			return nil, fmt.Errorf("decode phases of step %d: %w", r.Step, err)
		}
		steps = append(steps, r)
	}
	return steps, rows.Err()
}

// LaneFlows returns the lane flow samples of a run, by step, road and lane.
func (s *Store) LaneFlows(ctx context.Context, runID string) ([]LaneFlow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step, road_id, lane_id, flow FROM lane_flows
		WHERE run_id = ? ORDER BY step, road_id, lane_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query lane flows: %w", err)
	}
	defer rows.Close()

	var flows []LaneFlow
	for rows.Next() {
		var f LaneFlow
		if err := rows.Scan(&f.Step, &f.RoadID, &f.LaneID, &f.Flow); err != nil {
			return nil, fmt.Errorf("scan lane flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// Roads returns the map snapshot of a run, by road id.
func (s *Store) Roads(ctx context.Context, runID string) ([]MapRoad, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT road_id, lanes_left, lanes_right, lane_width, geometry
		FROM map_roads WHERE run_id = ? ORDER BY road_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query roads: %w", err)
	}
	defer rows.Close()

	var roads []MapRoad
	for rows.Next() {
		var r MapRoad
		var geom string
		if err := rows.Scan(&r.RoadID, &r.LanesLeft, &r.LanesRight, &r.LaneWidth, &geom); err != nil {
			return nil, fmt.Errorf("scan road: %w", err)
		}
		if r.Points, err = DecodeGeometry(geom); err != nil {
			return nil, fmt.Errorf("road %d: %w", r.RoadID, err)
		}
		roads = append(roads, r)
	}
	return roads, rows.Err()
}
