// Package vsync estimates display refresh timing from hardware vsync events.
//
// The Estimator keeps a rolling (count, period, base) estimate published
// through a lockless.Cell, so the compositor, the render thread and the pose
// predictor can convert between absolute time and fractional vsync count
// without locks.
//
// Degraded mode: until the first sample arrives the count is derived from
// the wall clock at DefaultPeriod. It is monotonic, and the first real
// sample is anchored so the count never goes backwards.
//
// Example:
//
//	est := vsync.NewEstimator(clock.System{}, vsync.DefaultConfig())
//	onVsync := est.OnVsyncSample // platform callback
//
//	v := math.Floor(est.CurrentFractionalVsync())
//	displayAt := est.VsyncToTime(v + 1.5)
package vsync
