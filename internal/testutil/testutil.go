// Package testutil provides shared test helpers and fixtures: map
// descriptions, telemetry record constructors and small assertions.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/banshee-data/simstats/internal/telemetry"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Road describes one baseline for MapXML.
type Road struct {
	ID     int
	Points [][2]float64
}

// Cross describes one intersection for MapXML.
type Cross struct {
	ID   int
	X, Y float64
}

// MapXML renders a map description. Each road gets its own path id
// ("P<id>") and link element.
func MapXML(roads []Road, crosses []Cross) string {
	var b strings.Builder
	b.WriteString("<Map>\n")
	for _, r := range roads {
		pts := make([]string, len(r.Points))
		for i, p := range r.Points {
			pts[i] = fmt.Sprintf("%g %g", p[0], p[1])
		}
		fmt.Fprintf(&b, "  <Baseline>\n    <Points>%s</Points>\n    <Path_ID>P%d</Path_ID>\n  </Baseline>\n",
			strings.Join(pts, ","), r.ID)
		fmt.Fprintf(&b, "  <Link>\n    <Path_ID>P%d</Path_ID>\n    <Road_ID>%d</Road_ID>\n  </Link>\n", r.ID, r.ID)
	}
	for _, c := range crosses {
		fmt.Fprintf(&b, "  <Cross>\n    <x>%g</x>\n    <y>%g</y>\n    <Cross_Id>%d</Cross_Id>\n  </Cross>\n", c.X, c.Y, c.ID)
	}
	b.WriteString("</Map>\n")
	return b.String()
}

// StraightRoadXML is a map with one straight road from (0,0) to (length,0).
func StraightRoadXML(roadID int, length float64) string {
	return MapXML([]Road{{ID: roadID, Points: [][2]float64{{0, 0}, {length, 0}}}}, nil)
}

// VehicleRecord builds a vehicle data record.
func VehicleRecord(simID string, step, vehicleID, roadID int, speed, x, y float64) *telemetry.Record {
	return &telemetry.Record{
		SimID:       simID,
		StepNum:     step,
		CorrectFlag: 1,
		Vehicle: &telemetry.Vehicle{
			VehicleID: vehicleID,
			RoadID:    roadID,
			Speed:     speed,
			X:         x,
			Y:         y,
		},
	}
}

// PhaseRecord builds a phase data record.
func PhaseRecord(simID string, step, phaseID, color int) *telemetry.Record {
	return &telemetry.Record{
		SimID:       simID,
		StepNum:     step,
		CorrectFlag: 1,
		Phase:       &telemetry.Phase{PhaseID: phaseID, Color: color},
	}
}

// Sentinel builds the end-of-substream marker for one stream of a step.
func Sentinel(simID string, step int, stream string) *telemetry.Record {
	return &telemetry.Record{
		SimID:    simID,
		StepNum:  step,
		Finished: true,
		Stream:   stream,
	}
}
