// Package telemetry defines the per-object records streamed by the
// simulation engine and their wire decoding.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
)

// ErrMalformedRecord is returned for records that cannot be parsed or that
// carry neither (or both) payloads.
var ErrMalformedRecord = errors.New("malformed telemetry record")

// Topic prefixes. Each simulation publishes on <prefix><simId>.
const (
	VehicleTopicPrefix = "vehicle_"
	PhaseTopicPrefix   = "phase_"
)

// Stream names used as sentinel routing hints.
const (
	StreamVehicle = "vehicle"
	StreamPhase   = "phase"
)

// LaneUnresolved marks a vehicle whose lane has not been computed.
const LaneUnresolved = -3

// Vehicle is one vehicle observation. The lane index is derived from the
// road network on first use and cached; it is never serialized.
type Vehicle struct {
	VehicleID    int     `json:"vehicleID"`
	RoadID       int     `json:"roadID"`
	Speed        float64 `json:"speed"`
	Acceleration float64 `json:"acceleration"`
	X            float64 `json:"xPosition"`
	Y            float64 `json:"yPosition"`

	lane         int
	laneResolved bool
}

// Phase is one signal-phase state of an intersection arm.
type Phase struct {
	PhaseID int     `json:"phaseId"`
	X       float64 `json:"xPosition"`
	Y       float64 `json:"yPosition"`
	Color   int     `json:"color"`
}

// LaneResolver maps a road id and position to a lane index.
type LaneResolver interface {
	ResolveLane(roadID int, pos orb.Point) int
}

// Position returns the vehicle position in simulation pixels.
func (v *Vehicle) Position() orb.Point {
	return orb.Point{v.X, v.Y}
}

// Lane returns the cached lane index, resolving it through r on first call.
// With no cached value and a nil resolver it returns LaneUnresolved.
func (v *Vehicle) Lane(r LaneResolver) int {
	if v.laneResolved {
		return v.lane
	}
	if r == nil {
		return LaneUnresolved
	}
	v.lane = r.ResolveLane(v.RoadID, v.Position())
	v.laneResolved = true
	return v.lane
}

// Record is one message from a vehicle_ or phase_ topic. Data records carry
// exactly one payload; sentinel records have Finished set and mark the end
// of one sub-stream for StepNum.
type Record struct {
	SimID       string   `json:"simId"`
	StepNum     int      `json:"stepNum"`
	CorrectFlag int      `json:"correctFlag"`
	Vehicle     *Vehicle `json:"vehicle"`
	Phase       *Phase   `json:"phase"`
	Finished    bool     `json:"finished"`

	// Stream optionally names the sub-stream a sentinel closes. Only used to
	// route payload-less records onto the right topic.
	Stream string `json:"stream,omitempty"`
}

// Decode parses and validates one JSON record.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate enforces the one-payload rule on data records.
func (r *Record) Validate() error {
	if r.Finished {
		return nil
	}
	switch {
	case r.Vehicle == nil && r.Phase == nil:
		return fmt.Errorf("%w: step %d has no payload", ErrMalformedRecord, r.StepNum)
	case r.Vehicle != nil && r.Phase != nil:
		return fmt.Errorf("%w: step %d has both vehicle and phase payloads", ErrMalformedRecord, r.StepNum)
	}
	return nil
}

// Kind labels the record for metrics and logs.
func (r *Record) Kind() string {
	switch {
	case r.Finished:
		return "sentinel"
	case r.Vehicle != nil:
		return StreamVehicle
	case r.Phase != nil:
		return StreamPhase
	}
	return "empty"
}

// Topic returns the topic this record belongs on.
func (r *Record) Topic() string {
	if r.Phase != nil || (r.Vehicle == nil && r.Stream == StreamPhase) {
		return PhaseTopic(r.SimID)
	}
	return VehicleTopic(r.SimID)
}

// VehicleTopic returns the vehicle topic for simID.
func VehicleTopic(simID string) string { return VehicleTopicPrefix + simID }

// PhaseTopic returns the phase topic for simID.
func PhaseTopic(simID string) string { return PhaseTopicPrefix + simID }

// ParseTopic splits a topic name into simulation id and stream.
func ParseTopic(topic string) (simID, stream string, ok bool) {
	switch {
	case strings.HasPrefix(topic, VehicleTopicPrefix):
		simID, stream = strings.TrimPrefix(topic, VehicleTopicPrefix), StreamVehicle
	case strings.HasPrefix(topic, PhaseTopicPrefix):
		simID, stream = strings.TrimPrefix(topic, PhaseTopicPrefix), StreamPhase
	default:
		return "", "", false
	}
	return simID, stream, simID != ""
}
