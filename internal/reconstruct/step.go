package reconstruct

import (
	"context"
	"time"

	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
)

// sentinelsPerStep is the number of end-of-substream markers (one vehicle,
// one phase) that complete a step.
const sentinelsPerStep = 2

// Step is an in-flight step being assembled.
type Step struct {
	Number      int
	CorrectFlag int
	Vehicles    []*telemetry.Vehicle
	Phases      []*telemetry.Phase

	sentinels int
	firstSeen time.Time
	hasFlag   bool
}

func (s *Step) add(rec *telemetry.Record) {
	if !s.hasFlag {
		s.CorrectFlag = rec.CorrectFlag
		s.hasFlag = true
	}
	switch {
	case rec.Vehicle != nil:
		s.Vehicles = append(s.Vehicles, rec.Vehicle)
	case rec.Phase != nil:
		s.Phases = append(s.Phases, rec.Phase)
	}
}

// StepOutput is what a completed step emits to the sinks.
type StepOutput struct {
	SimID       string               `json:"simId"`
	Step        int                  `json:"step"`
	CorrectFlag int                  `json:"correctFlag"`
	Vehicles    []*telemetry.Vehicle `json:"vehicles"`
	Phases      []*telemetry.Phase   `json:"phases"`
	Stats       *stats.Record        `json:"infoStat"`
}

// Sink receives completed steps. Emit is called from the worker goroutine;
// implementations that block apply backpressure to the whole simulation.
type Sink interface {
	Emit(ctx context.Context, out *StepOutput) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out *StepOutput) error

func (f SinkFunc) Emit(ctx context.Context, out *StepOutput) error { return f(ctx, out) }

// Discard is a Sink that drops every step.
var Discard Sink = SinkFunc(func(context.Context, *StepOutput) error { return nil })
