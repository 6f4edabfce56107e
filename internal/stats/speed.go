package stats

import (
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/simstats/internal/telemetry"
)

// AverageSpeed reports min/max/mean vehicle speed in km/h.
type AverageSpeed struct{}

func (AverageSpeed) Name() string { return "average_speed" }

func (AverageSpeed) Execute(in *Input, st *State, rec *Record) error {
	speeds := lo.Map(in.Vehicles, func(v *telemetry.Vehicle, _ int) float64 { return v.Speed })
	low, high, mean := extremes(speeds)
	cal := st.params.Calibration
	rec.SpeedMin = cal.SpeedKMH(low)
	rec.SpeedMax = cal.SpeedKMH(high)
	rec.SpeedAve = cal.SpeedKMH(mean)
	return nil
}

// AverageAcceleration reports min/max/mean acceleration in m/s².
type AverageAcceleration struct{}

func (AverageAcceleration) Name() string { return "average_acceleration" }

func (AverageAcceleration) Execute(in *Input, st *State, rec *Record) error {
	accs := lo.Map(in.Vehicles, func(v *telemetry.Vehicle, _ int) float64 { return v.Acceleration })
	low, high, mean := extremes(accs)
	cal := st.params.Calibration
	rec.AccMin = cal.AccelMPS2(low)
	rec.AccMax = cal.AccelMPS2(high)
	rec.AccAve = cal.AccelMPS2(mean)
	return nil
}

// extremes returns min, max and mean of xs; all zero when xs is empty.
func extremes(xs []float64) (low, high, mean float64) {
	if len(xs) == 0 {
		return 0, 0, 0
	}
	return floats.Min(xs), floats.Max(xs), stat.Mean(xs, nil)
}
