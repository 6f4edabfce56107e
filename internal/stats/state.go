package stats

import (
	"maps"
	"slices"

	"github.com/banshee-data/simstats/internal/config"
	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/telemetry"
	"github.com/banshee-data/simstats/internal/units"
	"github.com/banshee-data/simstats/internal/window"
)

// Params are the per-simulation tunables read by the modules.
type Params struct {
	Calibration units.Calibration
	// LowSpeed is the speed (pixels/tick) below which a vehicle counts as
	// stopped or queued.
	LowSpeed       float64
	WindowSize     int
	CarLength      float64
	QueueThreshold float64
}

// DefaultParams mirrors config.DefaultTuningConfig.
func DefaultParams() Params {
	return ParamsFromConfig(config.EmptyTuningConfig())
}

// ParamsFromConfig extracts the statistics tunables from cfg.
func ParamsFromConfig(cfg *config.TuningConfig) Params {
	return Params{
		Calibration:    cfg.GetCalibration(),
		LowSpeed:       cfg.GetLowSpeed(),
		WindowSize:     cfg.GetWindowSize(),
		CarLength:      cfg.GetCarLength(),
		QueueThreshold: cfg.GetQueueThreshold(),
	}
}

// Queue is an open or closed queue: its longest observed length in pixels
// and the number of ticks it has been present.
type Queue struct {
	Length   float64
	Duration int
}

// State is the running statistics state of one simulation. It is owned by a
// single worker and is not safe for concurrent use.
type State struct {
	model    *roadnet.Model
	params   Params
	capacity float64

	// FlowInAndOut
	flows      map[roadnet.LaneKey]*window.Buffer
	crossFlows map[int]*window.Buffer
	carFlow    *window.Buffer
	carLoad    *window.Buffer

	// WaitInLine
	openQueues   map[roadnet.LaneKey]Queue
	closedQueues []Queue
	delays       map[int]int

	// Stop
	stops       map[int]int
	pendingStop map[int]bool

	previous     []*telemetry.Vehicle
	previousByID map[int]*telemetry.Vehicle
}

// NewState builds empty running state for a simulation on model.
func NewState(model *roadnet.Model, params Params) *State {
	if params.WindowSize < 1 {
		params.WindowSize = 1
	}
	s := &State{model: model, params: params}
	s.Reset()
	return s
}

// Reset discards all accumulated state, as at the start of a simulation.
func (s *State) Reset() {
	s.capacity = s.model.Capacity(s.params.CarLength)

	s.flows = make(map[roadnet.LaneKey]*window.Buffer)
	for _, k := range s.model.LaneKeys() {
		s.flows[k] = window.New(s.params.WindowSize)
	}
	s.crossFlows = make(map[int]*window.Buffer)
	for _, c := range s.model.Crosses() {
		s.crossFlows[c.CrossID] = window.New(s.params.WindowSize)
	}
	s.carFlow = window.New(s.params.WindowSize)
	s.carLoad = window.New(s.params.WindowSize)

	s.openQueues = make(map[roadnet.LaneKey]Queue)
	s.closedQueues = nil
	s.delays = make(map[int]int)

	s.stops = make(map[int]int)
	s.pendingStop = make(map[int]bool)

	s.previous = nil
	s.previousByID = make(map[int]*telemetry.Vehicle)
}

// Model returns the road network the state was built for.
func (s *State) Model() *roadnet.Model { return s.model }

func (s *State) Params() Params { return s.params }

// Capacity is the estimated number of vehicles the network holds.
func (s *State) Capacity() float64 { return s.capacity }

// Previous returns the vehicle list of the last executed step.
func (s *State) Previous() []*telemetry.Vehicle { return s.previous }

// LaneExits returns the raw exit count pushed for a lane by the last step.
func (s *State) LaneExits(k roadnet.LaneKey) (int, bool) {
	b, ok := s.flows[k]
	if !ok {
		return 0, false
	}
	v, ok := b.Last()
	return int(v), ok
}

// CrossExits returns the raw exit count pushed for an intersection by the
// last step.
func (s *State) CrossExits(crossID int) (int, bool) {
	b, ok := s.crossFlows[crossID]
	if !ok {
		return 0, false
	}
	v, ok := b.Last()
	return int(v), ok
}

// OpenQueues returns a copy of the queues still accumulating.
func (s *State) OpenQueues() map[roadnet.LaneKey]Queue { return maps.Clone(s.openQueues) }

// ClosedQueues returns a copy of the finalized queues in closing order.
func (s *State) ClosedQueues() []Queue { return slices.Clone(s.closedQueues) }

// Stops returns the stop count of a vehicle.
func (s *State) Stops(vehicleID int) int { return s.stops[vehicleID] }

// Delay returns the number of ticks a vehicle has spent below the low speed.
func (s *State) Delay(vehicleID int) int { return s.delays[vehicleID] }

// refresh records in as the previous step.
func (s *State) refresh(in *Input) {
	s.previous = slices.Clone(in.Vehicles)
	s.previousByID = make(map[int]*telemetry.Vehicle, len(in.Vehicles))
	for _, v := range in.Vehicles {
		if _, dup := s.previousByID[v.VehicleID]; !dup {
			s.previousByID[v.VehicleID] = v
		}
	}
}
