package stats

import (
	"errors"

	"github.com/banshee-data/simstats/internal/roadnet"
	"github.com/banshee-data/simstats/internal/telemetry"
)

var errNoRoadNetwork = errors.New("no road network")

// FlowInAndOut counts vehicles leaving each lane and intersection by
// comparing the step against the previous one. A vehicle leaves when it
// disappears or its road id changes; the count goes to the lane (or
// intersection) it was on in the previous step. Counts are smoothed by the
// per-lane window and reported per minute.
type FlowInAndOut struct{}

func (FlowInAndOut) Name() string { return "flow_in_and_out" }

func (FlowInAndOut) Execute(in *Input, st *State, rec *Record) error {
	model := st.model
	if model == nil {
		return errNoRoadNetwork
	}

	current := make(map[int]*telemetry.Vehicle, len(in.Vehicles))
	for _, v := range in.Vehicles {
		if _, dup := current[v.VehicleID]; !dup {
			current[v.VehicleID] = v
		}
	}

	laneCounts := make(map[roadnet.LaneKey]int, len(st.flows))
	crossCounts := make(map[int]int, len(st.crossFlows))
	prevOnMap := make(map[int]bool, len(st.previous))
	for _, prev := range st.previous {
		status := model.Classify(prev.RoadID)
		lane := prev.Lane(model)
		if status == roadnet.OffMap || (status == roadnet.OnRoad && lane < 0) {
			continue
		}
		prevOnMap[prev.VehicleID] = true

		if cur, ok := current[prev.VehicleID]; ok && cur.RoadID == prev.RoadID {
			continue
		}
		switch status {
		case roadnet.OnRoad:
			laneCounts[roadnet.LaneKey{Road: prev.RoadID, Lane: lane}]++
		case roadnet.OnIntersection:
			crossCounts[prev.RoadID]++
		}
	}

	for k, b := range st.flows {
		b.Push(float64(laneCounts[k]))
	}
	for id, b := range st.crossFlows {
		b.Push(float64(crossCounts[id]))
	}

	entered := 0
	for id := range current {
		if !prevOnMap[id] {
			entered++
		}
	}
	// A repeated id within one step is a separate arrival. Exits are
	// whatever balances the head count against the previous on-map set.
	cars := len(in.Vehicles)
	entered += cars - len(current)
	exited := len(prevOnMap) - cars + entered

	st.carFlow.Push(float64(exited))
	st.carLoad.Push(float64(entered))

	cal := st.params.Calibration
	rec.CarNumber = cars
	rec.CarIn = entered
	rec.CarOut = exited
	if st.capacity > 0 {
		rec.JamIndex = float64(cars) * 100 / st.capacity
	}
	rec.Global.CarsIn = cal.PerMinute(st.carLoad.Mean())
	rec.Global.CarsOut = cal.PerMinute(st.carFlow.Mean())
	rec.Global.Flow = st.laneFlow()
	rec.Global.CrossFlow = st.crossFlow()
	return nil
}

// laneFlow reports the smoothed flow of every road and lane in map order.
func (s *State) laneFlow() Flow {
	cal := s.params.Calibration
	baselines := s.model.Baselines()
	out := Flow{Data: make([]RoadFlow, 0, len(baselines))}

	nLanes := 0
	var total float64
	for _, b := range baselines {
		road := RoadFlow{RoadID: b.RoadID, Lanes: []LaneFlow{}}
		for _, lane := range b.Lanes() {
			var f float64
			if buf, ok := s.flows[roadnet.LaneKey{Road: b.RoadID, Lane: lane}]; ok {
				f = cal.PerMinute(buf.Mean())
			}
			road.Lanes = append(road.Lanes, LaneFlow{LaneID: lane, Flow: f})
			road.Flow += f
			nLanes++
		}
		total += road.Flow
		out.Data = append(out.Data, road)
	}
	if len(baselines) > 0 {
		out.RoadAve = total / float64(len(baselines))
	}
	if nLanes > 0 {
		out.LaneAve = total / float64(nLanes)
	}
	return out
}

// crossFlow reports the smoothed flow of every intersection in map order.
func (s *State) crossFlow() CrossFlow {
	cal := s.params.Calibration
	crosses := s.model.Crosses()
	out := CrossFlow{Data: make([]CrossFlowEntry, 0, len(crosses))}

	var total float64
	for _, c := range crosses {
		var f float64
		if buf, ok := s.crossFlows[c.CrossID]; ok {
			f = cal.PerMinute(buf.Mean())
		}
		out.Data = append(out.Data, CrossFlowEntry{CrossID: c.CrossID, Flow: f})
		total += f
	}
	if len(crosses) > 0 {
		out.FlowAve = total / float64(len(crosses))
	}
	return out
}
