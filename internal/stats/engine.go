// Package stats computes per-step traffic statistics. A fixed, ordered list
// of modules reads each completed step together with the simulation's
// running state and fills in one shared Record.
package stats

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/banshee-data/simstats/internal/monitoring"
)

// ErrModule wraps a module failure, whether returned or recovered from a
// panic.
var ErrModule = errors.New("statistic module failed")

// Module is one statistic. Execute reads the step and running state and
// writes its fields into rec.
type Module interface {
	Name() string
	Execute(in *Input, st *State, rec *Record) error
}

// Registry is an immutable ordered list of modules.
type Registry struct {
	modules []Module
}

// NewRegistry returns a registry running mods in the given order.
func NewRegistry(mods ...Module) *Registry {
	return &Registry{modules: slices.Clone(mods)}
}

// Modules returns the modules in execution order.
func (r *Registry) Modules() []Module { return slices.Clone(r.modules) }

// DefaultRegistry returns the process-wide registry. The order is part of
// the output contract:
//
//	AverageSpeed, AverageAcceleration, FlowInAndOut, WaitInLine, Stop
var DefaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(
		AverageSpeed{},
		AverageAcceleration{},
		FlowInAndOut{},
		WaitInLine{},
		Stop{},
	)
})

// Engine runs a registry against one simulation's state.
type Engine struct {
	registry *Registry
	state    *State
}

// NewEngine returns an engine. A nil registry uses DefaultRegistry.
func NewEngine(reg *Registry, st *State) *Engine {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Engine{registry: reg, state: st}
}

func (e *Engine) State() *State { return e.state }

// Execute runs every module over in and then records in as the previous
// step. A failing module leaves its fields at their prior values and does
// not stop the others; the returned error joins every failure and the
// record is always usable.
func (e *Engine) Execute(in *Input) (*Record, error) {
	start := time.Now()
	defer func() { monitoring.StepDuration.Observe(time.Since(start).Seconds()) }()

	rec := NewRecord()
	var errs []error
	for _, m := range e.registry.modules {
		saved := *rec
		if err := runModule(m, in, e.state, rec); err != nil {
			*rec = saved
			monitoring.ModuleFailures.WithLabelValues(m.Name()).Inc()
			monitoring.Logf("[stats] step %d: %v", in.Step, err)
			errs = append(errs, err)
		}
	}
	e.state.refresh(in)
	return rec, errors.Join(errs...)
}

func runModule(m Module, in *Input, st *State, rec *Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrModule, m.Name(), r)
		}
	}()
	if err := m.Execute(in, st, rec); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModule, m.Name(), err)
	}
	return nil
}
