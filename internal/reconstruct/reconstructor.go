// Package reconstruct assembles per-step snapshots from a simulation's
// telemetry stream and runs each completed step through the statistics
// engine exactly once.
//
// A step is created by its first data record and completes when the second
// sentinel (one per sub-stream) arrives. Steps that never complete are
// evicted by Sweep.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
	"github.com/banshee-data/simstats/internal/timeutil"
)

// Config configures a Reconstructor.
type Config struct {
	SimID  string
	Model  *roadnet.Model
	Engine *stats.Engine
	Sink   Sink
	Clock  timeutil.Clock

	// StepTimeout evicts a step this long after its first record. Zero
	// disables the age limit.
	StepTimeout time.Duration
	// MaxStepLag evicts a step trailing the newest step number by more than
	// this. Zero disables the lag limit.
	MaxStepLag int
	// FixRoads re-derives the road id of vehicles whose reported road is not
	// on the map.
	FixRoads bool
}

// Stats are running counters for one reconstructor.
type Stats struct {
	Completed uint64
	Evicted   uint64
	Rejected  uint64
	Orphans   uint64
}

// Reconstructor owns the in-flight step table of one simulation. It is not
// safe for concurrent use; a single worker calls Add and Sweep.
type Reconstructor struct {
	cfg    Config
	steps  map[int]*Step
	newest int
	seen   bool
	stats  Stats
}

// New returns a Reconstructor. Model and Engine are required.
func New(cfg Config) (*Reconstructor, error) {
	if cfg.Model == nil {
		return nil, errors.New("reconstruct: road network is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("reconstruct: statistics engine is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Reconstructor{cfg: cfg, steps: make(map[int]*Step)}, nil
}

// Add files one record. It returns an error wrapping
// telemetry.ErrMalformedRecord for a data record without exactly one
// payload, or the sink's error when the record completed a step that could
// not be emitted. A sentinel for an unknown step is ignored.
func (r *Reconstructor) Add(ctx context.Context, rec *telemetry.Record) error {
	if rec.Finished {
		return r.addSentinel(ctx, rec)
	}

	if err := rec.Validate(); err != nil {
		r.stats.Rejected++
		monitoring.RecordsRejected.WithLabelValues("payload").Inc()
		return err
	}
	monitoring.RecordsIngested.WithLabelValues(rec.Kind()).Inc()

	step, ok := r.steps[rec.StepNum]
	if !ok {
		step = &Step{Number: rec.StepNum, firstSeen: r.cfg.Clock.Now()}
		r.steps[rec.StepNum] = step
	}
	if !r.seen || rec.StepNum > r.newest {
		r.newest = rec.StepNum
		r.seen = true
	}

	if v := rec.Vehicle; v != nil {
		r.locate(v)
	}
	step.add(rec)
	return nil
}

func (r *Reconstructor) addSentinel(ctx context.Context, rec *telemetry.Record) error {
	monitoring.RecordsIngested.WithLabelValues(rec.Kind()).Inc()

	step, ok := r.steps[rec.StepNum]
	if !ok {
		r.stats.Orphans++
		monitoring.OrphanSentinels.Inc()
		monitoring.Debugf("[reconstruct] sim %s: sentinel for unknown step %d", r.cfg.SimID, rec.StepNum)
		return nil
	}
	step.sentinels++
	if step.sentinels < sentinelsPerStep {
		return nil
	}
	return r.complete(ctx, step)
}

// locate fixes an off-map road id when enabled and caches the lane index.
func (r *Reconstructor) locate(v *telemetry.Vehicle) {
	model := r.cfg.Model
	if r.cfg.FixRoads && model.Classify(v.RoadID) == roadnet.OffMap {
		if id := model.FixRoad(v.Position()); id >= 0 {
			monitoring.Debugf("[reconstruct] sim %s: vehicle %d road %d fixed to %d", r.cfg.SimID, v.VehicleID, v.RoadID, id)
			v.RoadID = id
		}
	}
	v.Lane(model)
}

// complete removes step from the table before anything else so it can
// never be processed twice.
func (r *Reconstructor) complete(ctx context.Context, step *Step) error {
	delete(r.steps, step.Number)

	in := &stats.Input{Step: step.Number, Vehicles: step.Vehicles, Phases: step.Phases}
	rec, _ := r.cfg.Engine.Execute(in)

	out := &StepOutput{
		SimID:       r.cfg.SimID,
		Step:        step.Number,
		CorrectFlag: step.CorrectFlag,
		Vehicles:    step.Vehicles,
		Phases:      step.Phases,
		Stats:       rec,
	}
	if out.Vehicles == nil {
		out.Vehicles = []*telemetry.Vehicle{}
	}
	if out.Phases == nil {
		out.Phases = []*telemetry.Phase{}
	}

	r.stats.Completed++
	monitoring.StepsCompleted.Inc()

	if err := r.cfg.Sink.Emit(ctx, out); err != nil {
		return fmt.Errorf("emit step %d: %w", step.Number, err)
	}
	return nil
}

// Sweep evicts steps older than the step timeout or lagging the newest
// step by more than the lag limit, and returns how many were evicted.
func (r *Reconstructor) Sweep(now time.Time) int {
	evicted := 0
	for n, step := range r.steps {
		expired := r.cfg.StepTimeout > 0 && now.Sub(step.firstSeen) > r.cfg.StepTimeout
		lagging := r.cfg.MaxStepLag > 0 && r.newest-n > r.cfg.MaxStepLag
		if !expired && !lagging {
			continue
		}
		delete(r.steps, n)
		evicted++
		monitoring.Debugf("[reconstruct] sim %s: evicted step %d (%d vehicles, %d phases, %d sentinels)",
			r.cfg.SimID, n, len(step.Vehicles), len(step.Phases), step.sentinels)
	}
	if evicted > 0 {
		r.stats.Evicted += uint64(evicted)
		monitoring.StepsEvicted.Add(float64(evicted))
		monitoring.Logf("[reconstruct] sim %s: evicted %d incomplete steps, %d pending", r.cfg.SimID, evicted, len(r.steps))
	}
	return evicted
}

// Finish drops every in-flight step and resets the statistics state, as at
// the end of a simulation. It returns the number of steps dropped.
func (r *Reconstructor) Finish() int {
	dropped := len(r.steps)
	clear(r.steps)
	r.seen = false
	r.newest = 0
	r.cfg.Engine.State().Reset()
	return dropped
}

// Pending returns the number of in-flight steps.
func (r *Reconstructor) Pending() int { return len(r.steps) }

func (r *Reconstructor) Stats() Stats { return r.stats }
