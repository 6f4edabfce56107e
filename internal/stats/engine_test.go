package stats

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/telemetry"
	"github.com/banshee-data/simstats/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// road5 is a 100px straight road with one 10px lane each side.
func road5(t *testing.T) *roadnet.Model {
	t.Helper()
	m, err := roadnet.Load(strings.NewReader(testutil.StraightRoadXML(5, 100)), roadnet.Options{Lanes: 1, LaneWidth: 10})
	require.NoError(t, err)
	return m
}

func vehicle(id, road int, speed, x, y float64) *telemetry.Vehicle {
	return &telemetry.Vehicle{VehicleID: id, RoadID: road, Speed: speed, X: x, Y: y}
}

func step(n int, vs ...*telemetry.Vehicle) *Input {
	return &Input{Step: n, Vehicles: vs}
}

func TestDefaultRegistryOrder(t *testing.T) {
	names := make([]string, 0)
	for _, m := range DefaultRegistry().Modules() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"average_speed", "average_acceleration", "flow_in_and_out", "wait_in_line", "stop"}, names)
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}

func TestSpeedConversion(t *testing.T) {
	e := NewEngine(nil, NewState(road5(t), DefaultParams()))
	rec, err := e.Execute(step(0, vehicle(1, 5, 1.0, 50, -5)))
	require.NoError(t, err)
	assert.Equal(t, 3.6, rec.SpeedAve)
	assert.Equal(t, 3.6, rec.SpeedMin)
	assert.Equal(t, 3.6, rec.SpeedMax)
}

func TestSpeedAndAcceleration(t *testing.T) {
	e := NewEngine(nil, NewState(road5(t), DefaultParams()))
	a := vehicle(1, 5, 2, 10, -5)
	a.Acceleration = -1
	b := vehicle(2, 5, 4, 40, -5)
	b.Acceleration = 3

	rec, err := e.Execute(step(0, a, b))
	require.NoError(t, err)
	assert.InDelta(t, 7.2, rec.SpeedMin, 1e-9)
	assert.InDelta(t, 14.4, rec.SpeedMax, 1e-9)
	assert.InDelta(t, 10.8, rec.SpeedAve, 1e-9)
	assert.Equal(t, -1.0, rec.AccMin)
	assert.Equal(t, 3.0, rec.AccMax)
	assert.Equal(t, 1.0, rec.AccAve)
}

func TestEmptyStep(t *testing.T) {
	e := NewEngine(nil, NewState(road5(t), DefaultParams()))
	rec, err := e.Execute(step(0))
	require.NoError(t, err)

	assert.Zero(t, rec.SpeedMin)
	assert.Zero(t, rec.SpeedAve)
	assert.Zero(t, rec.AccMax)
	assert.Zero(t, rec.Global.StopAve)
	assert.Zero(t, rec.Global.QueueLengthMin)
	assert.Zero(t, rec.JamIndex)
	assert.Len(t, rec.Global.Flow.Data, 1)
}

func TestExitCounter(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)
	key := roadnet.LaneKey{Road: 5, Lane: 0}

	rec, err := e.Execute(step(0, vehicle(1, 5, 5, 50, -5)))
	require.NoError(t, err)
	exits, ok := st.LaneExits(key)
	require.True(t, ok)
	assert.Equal(t, 0, exits)
	assert.Equal(t, 1, rec.CarIn)
	assert.Equal(t, 0, rec.CarOut)
	assert.InDelta(t, 4, rec.JamIndex, 1e-9) // capacity (1+1)*100/8 = 25

	rec, err = e.Execute(step(1))
	require.NoError(t, err)
	exits, _ = st.LaneExits(key)
	assert.Equal(t, 1, exits)
	left, _ := st.LaneExits(roadnet.LaneKey{Road: 5, Lane: 1})
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, rec.CarIn)
	assert.Equal(t, 1, rec.CarOut)

	want := Flow{
		RoadAve: 30,
		LaneAve: 15,
		Data: []RoadFlow{{
			RoadID: 5,
			Flow:   30,
			Lanes:  []LaneFlow{{LaneID: 0, Flow: 30}, {LaneID: 1, Flow: 0}},
		}},
	}
	if diff := cmp.Diff(want, rec.Global.Flow, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("flow mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 30, rec.Global.CarsOut, 1e-9)
	assert.InDelta(t, 30, rec.Global.CarsIn, 1e-9)
}

func TestRoadChangeCountsAsExit(t *testing.T) {
	m, err := roadnet.Load(strings.NewReader(testutil.MapXML(
		[]testutil.Road{{ID: 5, Points: [][2]float64{{0, 0}, {100, 0}}}},
		[]testutil.Cross{{ID: 9, X: 110, Y: 0}},
	)), roadnet.Options{Lanes: 1, LaneWidth: 10})
	require.NoError(t, err)
	st := NewState(m, DefaultParams())
	e := NewEngine(nil, st)

	_, err = e.Execute(step(0, vehicle(1, 5, 5, 95, -5)))
	require.NoError(t, err)
	_, err = e.Execute(step(1, vehicle(1, 9, 5, 108, -2)))
	require.NoError(t, err)
	exits, _ := st.LaneExits(roadnet.LaneKey{Road: 5, Lane: 0})
	assert.Equal(t, 1, exits)

	rec, err := e.Execute(step(2))
	require.NoError(t, err)
	crossExits, ok := st.CrossExits(9)
	require.True(t, ok)
	assert.Equal(t, 1, crossExits)
	require.Len(t, rec.Global.CrossFlow.Data, 1)
	assert.Equal(t, 9, rec.Global.CrossFlow.Data[0].CrossID)
	assert.InDelta(t, 20, rec.Global.CrossFlow.FlowAve, 1e-9) // mean(0,0,1) per minute
}

func TestOffMapVehiclesIgnoredByFlow(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)

	_, err := e.Execute(step(0, vehicle(1, 77, 5, 50, -5), vehicle(2, 5, 5, 50, -25)))
	require.NoError(t, err)
	rec, err := e.Execute(step(1))
	require.NoError(t, err)

	for _, k := range st.Model().LaneKeys() {
		n, _ := st.LaneExits(k)
		assert.Zero(t, n, k.String())
	}
	assert.Equal(t, 0, rec.CarOut)
}

func TestQueueClosesAfterNTicks(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		st := NewState(road5(t), DefaultParams())
		e := NewEngine(nil, st)
		for i := 0; i < n; i++ {
			_, err := e.Execute(step(i, vehicle(1, 5, 0, 50, -5)))
			require.NoError(t, err)
		}
		require.Len(t, st.OpenQueues(), 1)
		assert.Empty(t, st.ClosedQueues())

		_, err := e.Execute(step(n, vehicle(1, 5, 20, 70, -5)))
		require.NoError(t, err)
		assert.Empty(t, st.OpenQueues())
		assert.Equal(t, []Queue{{Length: 0, Duration: n}}, st.ClosedQueues())
	}
}

func TestQueueLength(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)

	rec, err := e.Execute(step(0,
		vehicle(1, 5, 0, 10, -5),
		vehicle(2, 5, 0.05, 18, -5),
		vehicle(3, 5, 0, 26, -5),
		vehicle(4, 5, 3, 34, -5),
		vehicle(5, 5, 0, 60, 5),
	))
	require.NoError(t, err)
	assert.Equal(t, 4, rec.LowSpeed)

	open := st.OpenQueues()
	require.Len(t, open, 2)
	assert.InDelta(t, 16, open[roadnet.LaneKey{Road: 5, Lane: 0}].Length, 1e-9)
	assert.Zero(t, open[roadnet.LaneKey{Road: 5, Lane: 1}].Length)
	assert.InDelta(t, 16, rec.Global.QueueLengthMax, 1e-9)
	assert.Zero(t, rec.Global.QueueLengthMin)
	assert.InDelta(t, 8, rec.Global.QueueLengthAve, 1e-9)
	assert.Equal(t, 1.0, rec.Global.QueueTimeMax)

	// A shorter chain does not shrink the open queue.
	_, err = e.Execute(step(1, vehicle(1, 5, 0, 10, -5), vehicle(2, 5, 0, 18, -5)))
	require.NoError(t, err)
	q := st.OpenQueues()[roadnet.LaneKey{Road: 5, Lane: 0}]
	assert.InDelta(t, 16, q.Length, 1e-9)
	assert.Equal(t, 2, q.Duration)
}

func TestDelay(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)

	var rec *Record
	var err error
	for i := 0; i < 3; i++ {
		rec, err = e.Execute(step(i, vehicle(1, 5, 0, 50, -5), vehicle(2, 5, float64(i%2)*0.05, 20, -5)))
		require.NoError(t, err)
	}
	rec, err = e.Execute(step(3, vehicle(1, 5, 0, 50, -5), vehicle(3, 5, 0, 90, -5)))
	require.NoError(t, err)

	assert.Equal(t, 4, st.Delay(1))
	assert.Equal(t, 3, st.Delay(2))
	assert.Equal(t, 1, st.Delay(3))
	assert.Equal(t, 4.0, rec.Global.DelayMax)
	assert.Equal(t, 1.0, rec.Global.DelayMin)
	assert.Equal(t, 2.0, rec.Global.DelayAve) // 8/3 truncated
}

func TestStops(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)

	speeds := []float64{5, 0, 0, 5, 0, 5}
	var rec *Record
	for i, s := range speeds {
		var err error
		rec, err = e.Execute(step(i, vehicle(1, 5, s, 50, -5), vehicle(2, 5, 5, 20, -5)))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, st.Stops(1))
	assert.Equal(t, 0, st.Stops(2))
	assert.Equal(t, 2, rec.Global.StopMax)
	assert.Equal(t, 0, rec.Global.StopMin)
	assert.Equal(t, 1.0, rec.Global.StopAve)
}

// One vehicle stationary for ticks 0-4 then moving at tick 5 on road 5.
func TestEndToEndRoad5(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)

	for tick := 0; tick <= 4; tick++ {
		rec, err := e.Execute(step(tick, vehicle(1, 5, 0, 50, -5)))
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Global.StopMax, "tick %d", tick)
		assert.Equal(t, float64(tick+1), rec.Global.QueueTimeMax, "tick %d", tick)
	}

	rec, err := e.Execute(step(5, vehicle(1, 5, 20, 70, -5)))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Global.StopMax)
	assert.Equal(t, 1.0, rec.Global.StopAve)
	assert.Equal(t, []Queue{{Length: 0, Duration: 5}}, st.ClosedQueues())
	assert.Equal(t, 5.0, rec.Global.QueueTimeMax)
	assert.Equal(t, 0, rec.LowSpeed)
	assert.InDelta(t, 72, rec.SpeedAve, 1e-9)
}

type failingModule struct{}

func (failingModule) Name() string { return "failing" }
func (failingModule) Execute(in *Input, st *State, rec *Record) error {
	rec.SpeedMax = 999
	return errors.New("boom")
}

type panickingModule struct{}

func (panickingModule) Name() string { return "panicking" }
func (panickingModule) Execute(in *Input, st *State, rec *Record) error {
	rec.CarNumber = 999
	panic("index out of range")
}

func TestModuleFailureIsolated(t *testing.T) {
	reg := NewRegistry(failingModule{}, panickingModule{}, AverageSpeed{}, Stop{})
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(reg, st)

	in := step(0, vehicle(1, 5, 2, 50, -5))
	rec, err := e.Execute(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModule))
	assert.Contains(t, err.Error(), "failing")
	assert.Contains(t, err.Error(), "panicking")

	require.NotNil(t, rec)
	assert.InDelta(t, 7.2, rec.SpeedMax, 1e-9)
	assert.Zero(t, rec.CarNumber)
	assert.Equal(t, in.Vehicles, st.Previous())
}

func TestResetClearsState(t *testing.T) {
	st := NewState(road5(t), DefaultParams())
	e := NewEngine(nil, st)
	_, err := e.Execute(step(0, vehicle(1, 5, 0, 50, -5)))
	require.NoError(t, err)
	require.NotEmpty(t, st.OpenQueues())

	st.Reset()
	assert.Empty(t, st.OpenQueues())
	assert.Empty(t, st.Previous())
	assert.Zero(t, st.Delay(1))
	_, ok := st.LaneExits(roadnet.LaneKey{Road: 5, Lane: 0})
	assert.False(t, ok)
}
