package vsync

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/lockless"
)

const (
	// DefaultPeriod is the assumed refresh period before any vsync sample
	// arrives (degraded mode).
	DefaultPeriod = time.Second / 60

	// DefaultBlend is the IIR weight of a new period measurement.
	DefaultBlend = 0.125

	// staleAfterPeriods marks the feed degraded when no sample arrived for
	// this many estimated periods.
	staleAfterPeriods = 8

	// feedWindow is the number of sample timestamps kept for FeedStats.
	feedWindow = 120
)

// Config configures an Estimator.
type Config struct {
	// DefaultPeriod is used in degraded mode (no samples yet).
	DefaultPeriod time.Duration

	// Blend is the IIR weight given to each new period measurement (0, 1].
	Blend float64
}

// DefaultConfig returns a 60 Hz estimator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultPeriod: DefaultPeriod,
		Blend:         DefaultBlend,
	}
}

// State is the published (count, period, base) estimate.
type State struct {
	// Count is the vsync count at Base.
	Count int64

	// Base is the absolute time of vsync Count, in seconds.
	Base float64

	// Period is the estimated refresh period, in seconds.
	Period float64

	// Samples is the number of accepted samples (0 = degraded mode).
	Samples uint64
}

// Stats is a snapshot of estimator counters.
type Stats struct {
	Samples    uint64  // accepted samples
	Resyncs    uint64  // samples whose implied period fell outside [0.5x, 2x]
	Rejected   uint64  // duplicate or out-of-order samples
	SeqResets  uint64  // hardware sequence went backwards
	Period     float64 // current estimate in seconds
	RefreshHz  float64 // 1 / Period
	Degraded   bool    // no samples yet, or feed stalled
	Fractional float64 // CurrentFractionalVsync at snapshot time
}

// Estimator maintains a rolling (period, phase) estimate from vsync samples
// and converts between absolute time and fractional vsync count.
//
// Thread-safety:
//   - OnVsyncSample: single writer (the platform vsync callback)
//   - Every other method: safe from any goroutine, lock-free
type Estimator struct {
	clock clock.Clock
	cfg   Config

	// epoch anchors the degraded (wall-clock) count.
	epoch float64

	state lockless.Cell[State]

	// --- Writer-only state (OnVsyncSample) ---

	lastSeq   int64
	seqOffset int64

	// --- Feed statistics ---

	feedMu    sync.Mutex
	feedTimes []float64

	resyncs   atomic.Uint64
	rejected  atomic.Uint64
	seqResets atomic.Uint64
}

// NewEstimator creates an estimator in degraded mode.
func NewEstimator(c clock.Clock, cfg Config) *Estimator {
	if cfg.DefaultPeriod <= 0 {
		cfg.DefaultPeriod = DefaultPeriod
	}
	if cfg.Blend <= 0 || cfg.Blend > 1 {
		cfg.Blend = DefaultBlend
	}

	e := &Estimator{
		clock:     c,
		cfg:       cfg,
		epoch:     c.Now(),
		feedTimes: make([]float64, 0, feedWindow),
	}
	e.state.Set(State{Period: cfg.DefaultPeriod.Seconds()})
	return e
}

// OnVsyncSample ingests one hardware vsync event.
//
// Algorithm:
//  1. First sample: anchor the published count so it never falls behind the
//     degraded wall-clock count already handed out
//  2. Sequence went backwards (driver restart): re-anchor from elapsed time
//  3. Implied period within [0.5x, 2x] of the estimate: IIR blend
//  4. Outside that range: resync (take the new base, keep the period)
//  5. Publish the new State
//
// Samples with a non-increasing timestamp or a repeated sequence are ignored.
func (e *Estimator) OnVsyncSample(seq int64, timestampNanos int64) {
	ts := float64(timestampNanos) * 1e-9
	prev := e.state.Get()

	if prev.Samples == 0 {
		offset := int64(math.Ceil(e.degradedVsync(ts))) - seq
		if offset < 0 {
			offset = 0
		}
		e.seqOffset = offset
		e.lastSeq = seq
		e.publish(State{
			Count:   seq + offset,
			Base:    ts,
			Period:  prev.Period,
			Samples: 1,
		})
		slog.Info("vsync: first sample, leaving degraded mode",
			"seq", seq,
			"count", seq+offset,
		)
		return
	}

	if seq == e.lastSeq || ts <= prev.Base {
		e.rejected.Add(1)
		return
	}

	if seq < e.lastSeq {
		elapsed := int64(math.Round((ts - prev.Base) / prev.Period))
		if elapsed < 1 {
			elapsed = 1
		}
		e.seqOffset = prev.Count + elapsed - seq
		e.seqResets.Add(1)
		slog.Warn("vsync: sequence reset, re-anchoring",
			"seq", seq,
			"last_seq", e.lastSeq,
			"count", prev.Count+elapsed,
		)
	}
	e.lastSeq = seq

	count := seq + e.seqOffset
	period := prev.Period
	implied := (ts - prev.Base) / float64(count-prev.Count)

	if implied >= 0.5*prev.Period && implied <= 2*prev.Period {
		period += e.cfg.Blend * (implied - period)
	} else {
		e.resyncs.Add(1)
		slog.Debug("vsync: resync",
			"implied_period", implied,
			"period", prev.Period,
		)
	}

	e.publish(State{
		Count:   count,
		Base:    ts,
		Period:  period,
		Samples: prev.Samples + 1,
	})
}

func (e *Estimator) publish(s State) {
	e.state.Set(s)

	e.feedMu.Lock()
	if len(e.feedTimes) == feedWindow {
		copy(e.feedTimes, e.feedTimes[1:])
		e.feedTimes = e.feedTimes[:feedWindow-1]
	}
	e.feedTimes = append(e.feedTimes, s.Base)
	e.feedMu.Unlock()
}

// degradedVsync is the wall-clock count at the default period.
func (e *Estimator) degradedVsync(t float64) float64 {
	v := (t - e.epoch) / e.cfg.DefaultPeriod.Seconds()
	if v < 0 {
		return 0
	}
	return v
}

// CurrentFractionalVsync extrapolates the vsync count to now.
// Safe from any goroutine at any rate.
func (e *Estimator) CurrentFractionalVsync() float64 {
	return e.TimeToVsync(e.clock.Now())
}

// VsyncToTime converts a fractional vsync count to absolute seconds.
func (e *Estimator) VsyncToTime(v float64) float64 {
	s := e.state.Get()
	if s.Samples == 0 {
		return e.epoch + v*e.cfg.DefaultPeriod.Seconds()
	}
	return s.Base + (v-float64(s.Count))*s.Period
}

// TimeToVsync converts absolute seconds to a fractional vsync count.
func (e *Estimator) TimeToVsync(t float64) float64 {
	s := e.state.Get()
	if s.Samples == 0 {
		return e.degradedVsync(t)
	}
	return float64(s.Count) + (t-s.Base)/s.Period
}

// PredictedDisplayTime returns the time at which a frame submitted now will
// be half way through scanout, given the application's minimum vsyncs per
// frame and its pipeline depth.
//
// Formula: vsyncToTime(floor(now) + minimumVsyncs*(pipelineDepth+0.5))
func (e *Estimator) PredictedDisplayTime(minimumVsyncs, pipelineDepth int) float64 {
	if minimumVsyncs < 1 {
		minimumVsyncs = 1
	}
	if pipelineDepth < 0 {
		pipelineDepth = 0
	}
	base := math.Floor(e.CurrentFractionalVsync())
	return e.VsyncToTime(base + float64(minimumVsyncs)*(float64(pipelineDepth)+0.5))
}

// State returns the published estimate.
func (e *Estimator) State() State {
	return e.state.Get()
}

// Period returns the current period estimate.
func (e *Estimator) Period() time.Duration {
	return clock.Duration(e.state.Get().Period)
}

// Degraded reports whether the estimate is wall-clock derived: no sample
// ever arrived, or the feed has been silent for several periods.
func (e *Estimator) Degraded() bool {
	s := e.state.Get()
	if s.Samples == 0 {
		return true
	}
	return e.clock.Now()-s.Base > staleAfterPeriods*s.Period
}

// Stats returns a snapshot of estimator counters.
func (e *Estimator) Stats() Stats {
	s := e.state.Get()
	return Stats{
		Samples:    s.Samples,
		Resyncs:    e.resyncs.Load(),
		Rejected:   e.rejected.Load(),
		SeqResets:  e.seqResets.Load(),
		Period:     s.Period,
		RefreshHz:  1 / s.Period,
		Degraded:   e.Degraded(),
		Fractional: e.CurrentFractionalVsync(),
	}
}

// FeedStats computes refresh-rate and jitter statistics over the recent
// sample window.
func (e *Estimator) FeedStats() *FeedStats {
	e.feedMu.Lock()
	times := make([]float64, len(e.feedTimes))
	copy(times, e.feedTimes)
	e.feedMu.Unlock()

	return CalculateFeedStats(times)
}
