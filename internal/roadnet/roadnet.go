// Package roadnet is the static road network a simulation runs on: road
// centerlines (baselines) and intersections (crosses), loaded once and read
// by every statistic module.
package roadnet

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/samber/lo"

	"github.com/banshee-data/simstats/internal/geometry"
)

// ErrMapLoad wraps every failure to build a Model.
var ErrMapLoad = errors.New("road network load failed")

// Status classifies a road id.
type Status int

const (
	OffMap Status = iota
	OnRoad
	OnIntersection
)

func (s Status) String() string {
	switch s {
	case OnRoad:
		return "on_road"
	case OnIntersection:
		return "on_intersection"
	}
	return "off_map"
}

// Lane indexes returned when a vehicle is beyond the outermost lane. Right
// side lanes are even (0, 2, 4...), left side lanes odd (1, 3, 5...).
const (
	LaneOffLeft  = -1
	LaneOffRight = -2
)

const (
	DefaultLaneWidth    = 10.0
	DefaultMaxLanes     = 4
	DefaultMaxRoadRange = 40.0
	crossRangeFactor    = 1.414
)

// Baseline is a road centerline with its lane layout.
type Baseline struct {
	RoadID   int
	Points   orb.LineString
	Width    float64
	MaxLeft  int
	MaxRight int
}

// Length returns the centerline length in pixels.
func (b *Baseline) Length() float64 {
	return geometry.PolylineLength(b.Points)
}

// Lanes lists the lane indexes of the road, right side first.
func (b *Baseline) Lanes() []int {
	lanes := make([]int, 0, b.MaxLeft+b.MaxRight)
	for i := 0; i < b.MaxRight; i++ {
		lanes = append(lanes, 2*i)
	}
	for i := 0; i < b.MaxLeft; i++ {
		lanes = append(lanes, 2*i+1)
	}
	return lanes
}

// BaseCross is an intersection center.
type BaseCross struct {
	CrossID int
	Center  orb.Point
	Width   float64
	Max     int
}

// LaneKey identifies one lane of one road.
type LaneKey struct {
	Road int
	Lane int
}

func (k LaneKey) String() string { return fmt.Sprintf("%d,%d", k.Road, k.Lane) }

// Options tune how a map description is turned into a Model.
type Options struct {
	// Lanes overrides the per-side lane count of every road and sets the
	// intersection search range to Lanes×LaneWidth. Zero keeps the defaults.
	Lanes             int
	LaneWidth         float64
	CorridorTolerance float64
}

// Model is the immutable road network. All methods are safe for concurrent
// readers.
type Model struct {
	baselines    []*Baseline
	byRoad       map[int]*Baseline
	crosses      []*BaseCross
	status       map[int]Status
	maxRoadRange float64
	tolerance    float64
}

func newModel(baselines []*Baseline, crosses []*BaseCross, opts Options) *Model {
	m := &Model{
		baselines:    baselines,
		byRoad:       make(map[int]*Baseline, len(baselines)),
		crosses:      crosses,
		status:       make(map[int]Status, len(baselines)+len(crosses)),
		maxRoadRange: DefaultMaxRoadRange,
		tolerance:    opts.CorridorTolerance,
	}
	if opts.Lanes > 0 {
		m.maxRoadRange = opts.LaneWidth * float64(opts.Lanes)
	}
	for _, b := range baselines {
		m.byRoad[b.RoadID] = b
		m.status[b.RoadID] = OnRoad
	}
	// Cross ids win when they collide with a road id.
	for _, c := range crosses {
		m.status[c.CrossID] = OnIntersection
	}
	return m
}

// Classify reports whether id names a road, an intersection, or nothing.
func (m *Model) Classify(id int) Status {
	return m.status[id]
}

// Baseline returns the baseline for a road id.
func (m *Model) Baseline(roadID int) (*Baseline, bool) {
	b, ok := m.byRoad[roadID]
	return b, ok
}

// Baselines returns the roads in load order. Callers must not modify them.
func (m *Model) Baselines() []*Baseline { return m.baselines }

// Crosses returns the intersections in load order. Callers must not modify
// them.
func (m *Model) Crosses() []*BaseCross { return m.crosses }

// MaxRoadRange is the base search radius used by FixRoad.
func (m *Model) MaxRoadRange() float64 { return m.maxRoadRange }

// LaneKeys lists every lane of every road, roads in load order.
func (m *Model) LaneKeys() []LaneKey {
	return lo.FlatMap(m.baselines, func(b *Baseline, _ int) []LaneKey {
		return lo.Map(b.Lanes(), func(lane int, _ int) LaneKey {
			return LaneKey{Road: b.RoadID, Lane: lane}
		})
	})
}

// Capacity estimates how many vehicles fit on the network: total lane length
// divided by carLength.
func (m *Model) Capacity(carLength float64) float64 {
	if carLength <= 0 {
		return 0
	}
	total := lo.SumBy(m.baselines, func(b *Baseline) float64 {
		return float64(b.MaxLeft+b.MaxRight) * b.Length()
	})
	return total / carLength
}

// DistanceFromBaseline returns the signed distance from pos to the road's
// centerline, positive on the right. ok is false for unknown roads.
func (m *Model) DistanceFromBaseline(roadID int, pos orb.Point) (float64, bool) {
	b, ok := m.byRoad[roadID]
	if !ok {
		return 0, false
	}
	return geometry.PolylineDistance(b.Points, pos), true
}

// ResolveLane buckets the lateral offset of pos from the road's baseline into
// a lane index. A vehicle on a road absent from the map is reported off-lane
// on the left.
func (m *Model) ResolveLane(roadID int, pos orb.Point) int {
	d, ok := m.DistanceFromBaseline(roadID, pos)
	if !ok {
		return LaneOffLeft
	}
	b := m.byRoad[roadID]
	right := d > 0
	d = math.Abs(d)

	maxLanes := b.MaxLeft
	if right {
		maxLanes = b.MaxRight
	}
	for i := 0; i < maxLanes; i++ {
		if b.Width*float64(i) <= d && d < b.Width*float64(i+1) {
			if right {
				return 2 * i
			}
			return 2*i + 1
		}
	}
	if right {
		return LaneOffRight
	}
	return LaneOffLeft
}

// FixRoad re-derives the road id for a position: the first road whose lane
// corridor contains it, else the nearest intersection within range, else -1.
func (m *Model) FixRoad(pos orb.Point) int {
	for _, b := range m.baselines {
		wl := float64(b.MaxLeft) * b.Width
		wr := float64(b.MaxRight) * b.Width
		if geometry.InCorridorTolerance(b.Points, pos, wl, wr, m.tolerance) {
			return b.RoadID
		}
	}

	if len(m.crosses) == 0 {
		return -1
	}
	nearest := slices.MinFunc(m.crosses, func(a, b *BaseCross) int {
		da, db := planar.Distance(a.Center, pos), planar.Distance(b.Center, pos)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})
	if planar.Distance(nearest.Center, pos) < m.maxRoadRange*crossRangeFactor {
		return nearest.CrossID
	}
	return -1
}
