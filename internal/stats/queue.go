package stats

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/samber/lo"

	"github.com/banshee-data/simstats/internal/geometry"
	"github.com/banshee-data/simstats/internal/roadnet"
)

// minQueueLength is the shortest chain reported as a queue length; shorter
// chains (including a single vehicle) are reported as 0.
const minQueueLength = 0.1

// WaitInLine tracks queues of slow vehicles per lane and per-vehicle delay.
//
// A lane has a queue while at least one vehicle on it is below the low
// speed. Each tick the queue is present its duration grows by one and its
// length is raised to the longest chain of slow vehicles seen. When the lane
// has no slow vehicle the queue closes and its final length and duration
// join the closed set. Reported length and time statistics cover open and
// closed queues together.
type WaitInLine struct{}

func (WaitInLine) Name() string { return "wait_in_line" }

func (WaitInLine) Execute(in *Input, st *State, rec *Record) error {
	model := st.model
	if model == nil {
		return errNoRoadNetwork
	}
	low := st.params.LowSpeed

	slow := make(map[roadnet.LaneKey][]orb.Point)
	lowCount := 0
	for _, v := range in.Vehicles {
		if v.Speed >= low {
			continue
		}
		st.delays[v.VehicleID]++
		if model.Classify(v.RoadID) != roadnet.OnRoad {
			continue
		}
		k := roadnet.LaneKey{Road: v.RoadID, Lane: v.Lane(model)}
		slow[k] = append(slow[k], v.Position())
		lowCount++
	}

	for k, q := range st.openQueues {
		if _, ok := slow[k]; !ok {
			st.closedQueues = append(st.closedQueues, q)
			delete(st.openQueues, k)
		}
	}
	for k, pts := range slow {
		length := geometry.LongestChain(pts, st.params.QueueThreshold)
		if length < minQueueLength {
			length = 0
		}
		q := st.openQueues[k]
		q.Duration++
		q.Length = math.Max(q.Length, length)
		st.openQueues[k] = q
	}

	queues := append(lo.Values(st.openQueues), st.closedQueues...)
	lengths := lo.Map(queues, func(q Queue, _ int) float64 { return q.Length })
	durations := lo.Map(queues, func(q Queue, _ int) float64 { return float64(q.Duration) })
	lenMin, lenMax, lenAve := extremes(lengths)
	timeMin, timeMax, timeAve := extremes(durations)

	delays := lo.Values(st.delays)
	var delayMin, delayMax, delayAve float64
	if len(delays) > 0 {
		delayMin = float64(lo.Min(delays))
		delayMax = float64(lo.Max(delays))
		// Integer mean of whole ticks.
		delayAve = float64(lo.Sum(delays) / len(delays))
	}

	cal := st.params.Calibration
	rec.LowSpeed = lowCount
	rec.Global.QueueLengthMin = cal.Metres(lenMin)
	rec.Global.QueueLengthMax = cal.Metres(lenMax)
	rec.Global.QueueLengthAve = cal.Metres(lenAve)
	rec.Global.QueueTimeMin = cal.Seconds(timeMin)
	rec.Global.QueueTimeMax = cal.Seconds(timeMax)
	rec.Global.QueueTimeAve = cal.Seconds(timeAve)
	rec.Global.DelayMin = cal.Seconds(delayMin)
	rec.Global.DelayMax = cal.Seconds(delayMax)
	rec.Global.DelayAve = cal.Seconds(delayAve)
	return nil
}
