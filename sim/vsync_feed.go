package sim

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// VsyncFeedConfig configures the simulated display interrupt.
type VsyncFeedConfig struct {
	RefreshHz float64       // default 60
	Jitter    time.Duration // max timestamp noise (uniform ±Jitter)
	DropEvery int           // lose every Nth interrupt (0 = never)
}

// VsyncFeed delivers (sequence, timestamp) samples to an Estimator.
type VsyncFeed struct {
	est   *vsync.Estimator
	clock clock.Clock
	cfg   VsyncFeedConfig

	seq     int64
	paused  atomic.Bool
	emitted atomic.Uint64
	dropped atomic.Uint64
}

// NewVsyncFeed creates a feed for est.
func NewVsyncFeed(est *vsync.Estimator, clk clock.Clock, cfg VsyncFeedConfig) *VsyncFeed {
	if cfg.RefreshHz <= 0 {
		cfg.RefreshHz = 60
	}
	return &VsyncFeed{est: est, clock: clk, cfg: cfg}
}

// Period returns the simulated refresh period.
func (f *VsyncFeed) Period() time.Duration {
	return time.Duration(float64(time.Second) / f.cfg.RefreshHz)
}

// Run emits one sample per period until ctx is cancelled.
func (f *VsyncFeed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.Period())
	defer ticker.Stop()

	slog.Info("sim: vsync feed started", "refresh_hz", f.cfg.RefreshHz, "jitter", f.cfg.Jitter)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sim: vsync feed stopped", "emitted", f.emitted.Load(), "dropped", f.dropped.Load())
			return ctx.Err()
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *VsyncFeed) tick() {
	f.seq++
	if f.paused.Load() || (f.cfg.DropEvery > 0 && f.seq%int64(f.cfg.DropEvery) == 0) {
		f.dropped.Add(1)
		return
	}

	ts := int64(f.clock.Now() * 1e9)
	if f.cfg.Jitter > 0 {
		ts += rand.Int64N(2*int64(f.cfg.Jitter)+1) - int64(f.cfg.Jitter)
	}
	f.est.OnVsyncSample(f.seq, ts)
	f.emitted.Add(1)
}

// Pause stops delivering samples (the estimator falls back to
// extrapolation, then degraded mode).
func (f *VsyncFeed) Pause(on bool) {
	f.paused.Store(on)
}

// Emitted returns the number of samples delivered.
func (f *VsyncFeed) Emitted() uint64 {
	return f.emitted.Load()
}
