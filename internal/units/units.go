// Package units converts simulation-native quantities (pixels, ticks) to
// physical units.
package units

// mpsToKMH converts metres/second to km/h.
const mpsToKMH = 3.6

// Calibration maps simulation space and time onto metres and seconds.
type Calibration struct {
	PixPerMetre    float64
	TicksPerSecond float64
}

// DefaultCalibration is one pixel per metre and one tick per second.
func DefaultCalibration() Calibration {
	return Calibration{PixPerMetre: 1.0, TicksPerSecond: 1.0}
}

// SpeedMPS converts pixels/tick to metres/second.
func (c Calibration) SpeedMPS(pixPerTick float64) float64 {
	return pixPerTick / c.PixPerMetre * c.TicksPerSecond
}

// SpeedKMH converts pixels/tick to km/h.
func (c Calibration) SpeedKMH(pixPerTick float64) float64 {
	return c.SpeedMPS(pixPerTick) * mpsToKMH
}

// AccelMPS2 converts pixels/tick² to metres/second².
func (c Calibration) AccelMPS2(pixPerTick2 float64) float64 {
	return pixPerTick2 / c.PixPerMetre * c.TicksPerSecond * c.TicksPerSecond
}

// PerMinute converts a per-tick rate to a per-minute rate.
func (c Calibration) PerMinute(perTick float64) float64 {
	return perTick * c.TicksPerSecond * 60
}

// Seconds converts a tick count to seconds.
func (c Calibration) Seconds(ticks float64) float64 {
	return ticks / c.TicksPerSecond
}

// Metres converts pixels to metres.
func (c Calibration) Metres(pix float64) float64 {
	return pix / c.PixPerMetre
}
