package pose

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/lockless"
)

const (
	// DefaultMaxPrediction clamps |dt| of any extrapolation.
	DefaultMaxPrediction = 100 * time.Millisecond

	// DefaultLongPrediction flags predictions further than one 60 Hz vsync
	// from the newest sample.
	DefaultLongPrediction = time.Second / 60

	// DefaultStaleAfter is how old the newest sample may be, relative to the
	// prediction target, before the sensor is treated as gone.
	DefaultStaleAfter = 250 * time.Millisecond

	// longPredictionLogInterval rate-limits the long prediction warning.
	longPredictionLogInterval = time.Second
)

// Config configures a Predictor.
type Config struct {
	// MaxPrediction clamps |target - sample time|. Beyond it the pose is
	// held at the clamped extrapolation instead of diverging.
	MaxPrediction time.Duration

	// LongPrediction flags (logs, counts) predictions beyond this horizon.
	// Typically one display period.
	LongPrediction time.Duration

	// StaleAfter bounds target - sample time. Beyond it the sample is
	// ignored and Predict returns identity (sensor unplugged mid-run).
	// Raised to MaxPrediction if lower.
	StaleAfter time.Duration

	// Clock paces the long-prediction warning. Nil means clock.System.
	Clock clock.Clock
}

// DefaultConfig returns the default prediction limits.
func DefaultConfig() Config {
	return Config{
		MaxPrediction:  DefaultMaxPrediction,
		LongPrediction: DefaultLongPrediction,
		StaleAfter:     DefaultStaleAfter,
	}
}

// PredictorStats is a snapshot of predictor counters.
type PredictorStats struct {
	Attached         bool
	Predictions      uint64 // total Predict calls
	IdentityFallback uint64 // Predict calls served without a sensor sample
	StaleSamples     uint64 // identity fallbacks caused by a sample older than StaleAfter
	Stale            bool   // the last sample seen was stale
	LongPredictions  uint64 // |dt| beyond LongPrediction
	LongWarnings     uint64 // rate-limited long prediction warnings logged
	Clamped          uint64 // |dt| beyond MaxPrediction
	Attaches         uint64
	Recenters        uint64
	YawCorrection    float64 // radians
}

// Predictor extrapolates the latest fused sensor sample to an arbitrary time.
//
// Thread-safety:
//   - Predict: lock-free, safe from any goroutine (compositor, render thread)
//   - AttachSource, Detach, RecenterYaw: serialized by mu (rare, hot-plug)
type Predictor struct {
	cfg Config

	mu     sync.Mutex                // serializes writers of source and yaw
	source lockless.Cell[Source]     // nil = no sensor attached
	yaw    lockless.Cell[mgl64.Quat] // recenter correction, survives reattach

	clock clock.Clock

	predictions atomic.Uint64
	identity    atomic.Uint64
	stale       atomic.Uint64
	staleNow    atomic.Bool
	long        atomic.Uint64
	longLogged  atomic.Uint64
	clamped     atomic.Uint64
	attaches    atomic.Uint64
	recenters   atomic.Uint64

	lastLongLog atomic.Int64 // clock nanos of the last long-prediction warning
}

// NewPredictor creates a predictor with no sensor attached.
func NewPredictor(cfg Config) *Predictor {
	if cfg.MaxPrediction <= 0 {
		cfg.MaxPrediction = DefaultMaxPrediction
	}
	if cfg.LongPrediction <= 0 {
		cfg.LongPrediction = DefaultLongPrediction
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.StaleAfter < cfg.MaxPrediction {
		cfg.StaleAfter = cfg.MaxPrediction
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	p := &Predictor{cfg: cfg, clock: cfg.Clock}
	p.lastLongLog.Store(math.MinInt64)
	p.yaw.Set(mgl64.QuatIdent())
	return p
}

// AttachSource attaches (or replaces) the sensor source.
// The yaw correction from a previous RecenterYaw is kept.
func (p *Predictor) AttachSource(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.source.Set(src)
	p.staleNow.Store(false)
	if src != nil {
		p.attaches.Add(1)
		slog.Info("pose: sensor attached")
	}
}

// Detach removes the sensor source. Predict falls back to identity.
func (p *Predictor) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source.Get() == nil {
		return
	}
	p.source.Set(nil)
	p.staleNow.Store(false)
	slog.Warn("pose: sensor detached, predictions fall back to identity")
}

// Attached reports whether a sensor source is attached.
func (p *Predictor) Attached() bool {
	return p.source.Get() != nil
}

// Stale reports whether the last prediction found only a stale sample.
func (p *Predictor) Stale() bool {
	return p.staleNow.Load()
}

// Predict returns the sensor state predicted for absolute time target.
//
// Algorithm:
//  1. Load the attached source (lock-free); none → identity
//  2. Load the latest fused sample; none yet → identity
//  3. dt = target - sample time (may be negative)
//  4. dt > StaleAfter → identity (the sensor stopped delivering)
//  5. |dt| > LongPrediction → flag (counted, rate-limited log)
//  6. Clamp |dt| to MaxPrediction, extrapolate
//  7. Apply the recenter yaw correction to both poses
//
// Never blocks, never fails. An identity result has Status == 0 and both
// poses stamped with target; callers treat it as "tracking unavailable".
func (p *Predictor) Predict(target float64) SensorState {
	p.predictions.Add(1)

	src := p.source.Get()
	if src == nil {
		return p.identityState(target)
	}
	sample, ok := src.LatestFusedSample()
	if !ok {
		return p.identityState(target)
	}

	dt := target - sample.Pose.TimeInSeconds
	if dt > p.cfg.StaleAfter.Seconds() {
		p.stale.Add(1)
		if p.staleNow.CompareAndSwap(false, true) {
			slog.Warn("pose: sensor samples stale, predictions fall back to identity",
				"age_ms", dt*1000,
				"limit_ms", p.cfg.StaleAfter.Milliseconds(),
			)
		}
		return p.identityState(target)
	}
	if p.staleNow.CompareAndSwap(true, false) {
		slog.Info("pose: sensor samples resumed")
	}

	if math.Abs(dt) > p.cfg.LongPrediction.Seconds() {
		p.flagLong(dt)
	}

	maxDt := p.cfg.MaxPrediction.Seconds()
	if dt > maxDt {
		dt = maxDt
		p.clamped.Add(1)
	} else if dt < -maxDt {
		dt = -maxDt
		p.clamped.Add(1)
	}

	correction := p.yaw.Get()
	recorded := applyYaw(correction, sample.Pose)
	predicted := applyYaw(correction, Extrapolate(sample.Pose, dt))
	predicted.TimeInSeconds = target

	return SensorState{
		Predicted:   predicted,
		Recorded:    recorded,
		Status:      sample.Status,
		Temperature: sample.Temperature,
	}
}

func (p *Predictor) identityState(target float64) SensorState {
	p.identity.Add(1)
	id := Identity(target)
	return SensorState{Predicted: id, Recorded: id}
}

func (p *Predictor) flagLong(dt float64) {
	p.long.Add(1)

	now := int64(p.clock.Now() * 1e9)
	last := p.lastLongLog.Load()
	if last != math.MinInt64 && now-last < int64(longPredictionLogInterval) {
		return
	}
	if p.lastLongLog.CompareAndSwap(last, now) {
		p.longLogged.Add(1)
		slog.Warn("pose: long prediction",
			"dt_ms", dt*1000,
			"limit_ms", p.cfg.LongPrediction.Milliseconds(),
			"total", p.long.Load(),
		)
	}
}

// RecenterYaw zeroes the current heading: after the call the latest sample
// predicts a yaw of 0. Pitch and roll are untouched.
//
// Recenter (and reattach) are the only allowed prediction discontinuities.
// Without a sensor sample the call is a no-op.
func (p *Predictor) RecenterYaw() {
	p.mu.Lock()
	defer p.mu.Unlock()

	src := p.source.Get()
	if src == nil {
		return
	}
	sample, ok := src.LatestFusedSample()
	if !ok {
		return
	}

	raw := Yaw(sample.Pose.Orientation)
	p.yaw.Set(YawRotation(-raw))
	p.recenters.Add(1)

	slog.Info("pose: recentered yaw", "yaw_deg", mgl64.RadToDeg(raw))
}

// ResetYaw removes the recenter correction.
func (p *Predictor) ResetYaw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yaw.Set(mgl64.QuatIdent())
}

// Stats returns a snapshot of predictor counters.
func (p *Predictor) Stats() PredictorStats {
	return PredictorStats{
		Attached:         p.Attached(),
		Predictions:      p.predictions.Load(),
		IdentityFallback: p.identity.Load(),
		StaleSamples:     p.stale.Load(),
		Stale:            p.staleNow.Load(),
		LongPredictions:  p.long.Load(),
		LongWarnings:     p.longLogged.Load(),
		Clamped:          p.clamped.Load(),
		Attaches:         p.attaches.Load(),
		Recenters:        p.recenters.Load(),
		YawCorrection:    Yaw(p.yaw.Get()),
	}
}

// applyYaw rotates a world-frame pose by a yaw correction.
func applyYaw(correction mgl64.Quat, p Pose) Pose {
	p.Orientation = correction.Mul(p.Orientation)
	p.Position = correction.Rotate(p.Position)
	p.LinearVelocity = correction.Rotate(p.LinearVelocity)
	p.LinearAcceleration = correction.Rotate(p.LinearAcceleration)
	return p
}
