package stats

import (
	"github.com/samber/lo"
)

// Stop counts, per vehicle, how often it drops below the low speed. A drop
// is a step below the threshold whose previous observation was above it. A
// vehicle first observed below the threshold has a stop pending, which is
// counted when it next moves above the threshold.
type Stop struct{}

func (Stop) Name() string { return "stop" }

func (Stop) Execute(in *Input, st *State, rec *Record) error {
	low := st.params.LowSpeed
	for _, v := range in.Vehicles {
		id := v.VehicleID
		prev, seen := st.previousByID[id]
		_, known := st.stops[id]
		if !known {
			st.stops[id] = 0
		}

		switch {
		case v.Speed < low && !known:
			st.pendingStop[id] = true
		case v.Speed < low && seen && prev.Speed > low:
			st.stops[id]++
		case v.Speed > low && st.pendingStop[id]:
			delete(st.pendingStop, id)
			st.stops[id]++
		}
	}

	counts := lo.Values(st.stops)
	if len(counts) == 0 {
		rec.Global.StopMin, rec.Global.StopMax, rec.Global.StopAve = 0, 0, 0
		return nil
	}
	rec.Global.StopMin = lo.Min(counts)
	rec.Global.StopMax = lo.Max(counts)
	rec.Global.StopAve = float64(lo.Sum(counts)) / float64(len(counts))
	return nil
}
