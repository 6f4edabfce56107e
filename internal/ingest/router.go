// Package ingest moves raw telemetry from the outside world (UDP datagrams,
// newline-delimited streams, serial ports, packet captures) onto the
// per-simulation broker topics.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/telemetry"
)

// Publisher appends a message to a topic.
type Publisher interface {
	Publish(topic string, data []byte) (int, error)
}

// heldStepWindow bounds how far behind the newest held step an unpaired
// sentinel may stay held before it is dropped.
const heldStepWindow = 64

type stepKey struct {
	sim  string
	step int
}

// Router validates records and publishes them on vehicle_<sim> or
// phase_<sim>.
//
// A sentinel carrying a "stream" hint goes straight to that stream's topic.
// Sentinels without a hint arrive on a single ordered stream after all of
// the step's data, so the first one is held and, once the step's second
// sentinel arrives, one sentinel is published to each topic that has not
// had one yet. Each topic's sentinel then follows that topic's data.
type Router struct {
	pub      Publisher
	routed   atomic.Uint64
	rejected atomic.Uint64

	mu     sync.Mutex
	held   map[stepKey]string
	newest map[string]int
}

func NewRouter(pub Publisher) *Router {
	return &Router{
		pub:    pub,
		held:   make(map[stepKey]string),
		newest: make(map[string]int),
	}
}

// Route publishes one JSON record. Blank input is ignored. The payload is
// copied, so callers may reuse data.
func (r *Router) Route(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	rec, err := telemetry.Decode(data)
	if err == nil && rec.SimID == "" {
		err = fmt.Errorf("%w: missing simId", telemetry.ErrMalformedRecord)
	}
	if err != nil {
		r.rejected.Add(1)
		monitoring.RecordsRejected.WithLabelValues("decode").Inc()
		return err
	}

	if rec.Finished {
		return r.routeSentinel(rec, data)
	}
	return r.publish(rec.Topic(), bytes.Clone(data))
}

func (r *Router) publish(topic string, data []byte) error {
	if _, err := r.pub.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	r.routed.Add(1)
	return nil
}

func (r *Router) routeSentinel(rec *telemetry.Record, data []byte) error {
	key := stepKey{sim: rec.SimID, step: rec.StepNum}
	hinted := rec.Stream == telemetry.StreamVehicle || rec.Stream == telemetry.StreamPhase

	r.mu.Lock()
	prev, paired := r.held[key]
	if paired {
		delete(r.held, key)
	} else {
		r.hold(key, rec.Stream)
	}
	r.mu.Unlock()

	switch {
	case hinted:
		if err := r.publish(rec.Topic(), bytes.Clone(data)); err != nil {
			return err
		}
		if paired && prev == "" {
			return r.publishSentinel(key, otherStream(rec.Stream))
		}
		return nil
	case !paired:
		return nil
	case prev == "":
		if err := r.publishSentinel(key, telemetry.StreamVehicle); err != nil {
			return err
		}
		return r.publishSentinel(key, telemetry.StreamPhase)
	}
	return r.publishSentinel(key, otherStream(prev))
}

func otherStream(stream string) string {
	if stream == telemetry.StreamPhase {
		return telemetry.StreamVehicle
	}
	return telemetry.StreamPhase
}

// hold records the first sentinel of a step, with its hint if any, and
// drops entries for the same simulation that have fallen heldStepWindow
// steps behind. Callers hold r.mu.
func (r *Router) hold(key stepKey, stream string) {
	if stream != telemetry.StreamVehicle && stream != telemetry.StreamPhase {
		stream = ""
	}
	r.held[key] = stream
	newest, ok := r.newest[key.sim]
	if ok && key.step <= newest {
		return
	}
	r.newest[key.sim] = key.step
	for k, v := range r.held {
		if k.sim == key.sim && k.step < key.step-heldStepWindow {
			delete(r.held, k)
			if v == "" {
				r.rejected.Add(1)
				monitoring.RecordsRejected.WithLabelValues("unpaired").Inc()
				monitoring.Debugf("[ingest] sim %s: dropped unpaired sentinel for step %d", k.sim, k.step)
			}
		}
	}
}

func (r *Router) publishSentinel(key stepKey, stream string) error {
	rec := &telemetry.Record{SimID: key.sim, StepNum: key.step, Finished: true, Stream: stream}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.publish(rec.Topic(), data)
}

// Held returns the number of steps with one sentinel seen and the other
// still outstanding.
func (r *Router) Held() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Routed returns the number of records published.
func (r *Router) Routed() uint64 { return r.routed.Load() }

// Rejected returns the number of records that failed to decode plus unpaired
// sentinels dropped.
func (r *Router) Rejected() uint64 { return r.rejected.Load() }
