// Package pipeline runs one worker per simulation. A worker follows the
// simulation's vehicle and phase topics from the first message, feeds the
// records to its own step reconstructor and sweeps stale steps on a timer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/simstats/internal/broker"
	"github.com/banshee-data/simstats/internal/config"
	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
	"github.com/banshee-data/simstats/internal/timeutil"
)

// Subscriber streams a topic from its first message.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) <-chan broker.Message
}

// RunRecorder is told when a worker starts serving a simulation, with the
// road network it loaded.
type RunRecorder interface {
	StartRun(ctx context.Context, simID string, model *roadnet.Model) (string, error)
}

// MapLoader builds the road network for a simulation.
type MapLoader func(path string, opts roadnet.Options) (*roadnet.Model, error)

// WorkerConfig configures one simulation worker.
type WorkerConfig struct {
	SimID    string
	MapPath  string
	Tuning   *config.TuningConfig
	Registry *stats.Registry
	Sink     reconstruct.Sink
	Clock    timeutil.Clock
	// LoadMap defaults to roadnet.LoadFile.
	LoadMap MapLoader
	// Runs is optional.
	Runs RunRecorder
}

// WorkerStats is a snapshot of a worker's counters, safe to read from any
// goroutine.
type WorkerStats struct {
	SimID     string `json:"sim_id"`
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Completed uint64 `json:"completed"`
	Evicted   uint64 `json:"evicted"`
	Pending   int64  `json:"pending"`
}

// Worker owns the reconstructor, engine and running state of a single
// simulation.
type Worker struct {
	cfg   WorkerConfig
	src   Subscriber
	model *roadnet.Model
	rec   *reconstruct.Reconstructor

	received  atomic.Uint64
	malformed atomic.Uint64
	completed atomic.Uint64
	evicted   atomic.Uint64
	pending   atomic.Int64
}

// MapOptions derives road network options from the tuning config.
func MapOptions(cfg *config.TuningConfig) roadnet.Options {
	return roadnet.Options{
		Lanes:             cfg.GetLanes(),
		LaneWidth:         cfg.GetLaneWidth(),
		CorridorTolerance: cfg.GetCorridorTolerance(),
	}
}

// NewWorker loads the map and builds the statistics state. A map that
// cannot be loaded is returned as an error wrapping roadnet.ErrMapLoad.
func NewWorker(cfg WorkerConfig, src Subscriber) (*Worker, error) {
	if cfg.SimID == "" {
		return nil, errors.New("pipeline: simulation id is required")
	}
	if cfg.Tuning == nil {
		cfg.Tuning = config.EmptyTuningConfig()
	}
	if cfg.Registry == nil {
		cfg.Registry = stats.DefaultRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.LoadMap == nil {
		cfg.LoadMap = roadnet.LoadFile
	}

	model, err := cfg.LoadMap(cfg.MapPath, MapOptions(cfg.Tuning))
	if err != nil {
		return nil, fmt.Errorf("sim %s: %w", cfg.SimID, err)
	}

	st := stats.NewState(model, stats.ParamsFromConfig(cfg.Tuning))
	rec, err := reconstruct.New(reconstruct.Config{
		SimID:       cfg.SimID,
		Model:       model,
		Engine:      stats.NewEngine(cfg.Registry, st),
		Sink:        cfg.Sink,
		Clock:       cfg.Clock,
		StepTimeout: cfg.Tuning.GetStepTimeout(),
		MaxStepLag:  cfg.Tuning.GetMaxStepLag(),
		FixRoads:    cfg.Tuning.GetFixRoads(),
	})
	if err != nil {
		return nil, err
	}
	return &Worker{cfg: cfg, src: src, model: model, rec: rec}, nil
}

// SimID returns the simulation this worker serves.
func (w *Worker) SimID() string { return w.cfg.SimID }

// Model returns the worker's road network.
func (w *Worker) Model() *roadnet.Model { return w.model }

// Stats returns the worker's counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		SimID:     w.cfg.SimID,
		Received:  w.received.Load(),
		Malformed: w.malformed.Load(),
		Completed: w.completed.Load(),
		Evicted:   w.evicted.Load(),
		Pending:   w.pending.Load(),
	}
}

// Run consumes both topics until ctx is done or both subscriptions end.
// In-flight steps are dropped and the statistics state reset on return.
func (w *Worker) Run(ctx context.Context) error {
	id := w.cfg.SimID
	vehicles := w.src.Subscribe(ctx, telemetry.VehicleTopic(id))
	phases := w.src.Subscribe(ctx, telemetry.PhaseTopic(id))

	ticker := w.cfg.Clock.NewTicker(w.cfg.Tuning.GetSweepInterval())
	defer ticker.Stop()

	monitoring.Logf("[pipeline] sim %s: worker started (%d roads, %d crosses)",
		id, len(w.model.Baselines()), len(w.model.Crosses()))
	if w.cfg.Runs != nil {
		if _, err := w.cfg.Runs.StartRun(ctx, id, w.model); err != nil {
			monitoring.Logf("[pipeline] sim %s: %v", id, err)
		}
	}
	defer func() {
		dropped := w.rec.Finish()
		w.pending.Store(0)
		monitoring.Logf("[pipeline] sim %s: worker stopped, %d steps completed, %d dropped",
			id, w.completed.Load(), dropped)
	}()

	for vehicles != nil || phases != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-vehicles:
			if !ok {
				vehicles = nil
				continue
			}
			w.handle(ctx, msg)
		case msg, ok := <-phases:
			if !ok {
				phases = nil
				continue
			}
			w.handle(ctx, msg)
		case now := <-ticker.C():
			w.sweep(now)
		}
	}
	return ctx.Err()
}

func (w *Worker) handle(ctx context.Context, msg broker.Message) {
	w.received.Add(1)
	rec, err := telemetry.Decode(msg.Data)
	if err == nil {
		err = w.rec.Add(ctx, rec)
	}
	if err != nil {
		if errors.Is(err, telemetry.ErrMalformedRecord) {
			w.malformed.Add(1)
			monitoring.Debugf("[pipeline] sim %s: %s@%d: %v", w.cfg.SimID, msg.Topic, msg.Offset, err)
		} else {
			monitoring.Logf("[pipeline] sim %s: %v", w.cfg.SimID, err)
		}
	}
	w.sync()
}

func (w *Worker) sweep(now time.Time) {
	w.rec.Sweep(now)
	w.sync()
}

func (w *Worker) sync() {
	s := w.rec.Stats()
	w.completed.Store(s.Completed)
	w.evicted.Store(s.Evicted)
	w.pending.Store(int64(w.rec.Pending()))
}
