package sim

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// AppConfig configures the simulated render thread.
type AppConfig struct {
	RenderTime    time.Duration // CPU time per frame before WarpSwap
	MinimumVsyncs int           // 1 = full rate
	PipelineDepth int           // frames between render and display (default 1)
	FieldOfView   float64       // degrees (default 90)
	EyeSize       uint32        // eye texture edge in pixels (default 1024)

	// SlowEvery makes every Nth frame take SlowTime instead of RenderTime.
	SlowEvery int
	SlowTime  time.Duration
}

// App is a render thread: predict, render, WarpSwap, repeat.
type App struct {
	comp timewarp.Compositor
	est  *vsync.Estimator
	pred *pose.Predictor
	cfg  AppConfig

	frames atomic.Uint64
	errors atomic.Uint64
}

// NewApp creates an application loop submitting to comp.
func NewApp(comp timewarp.Compositor, est *vsync.Estimator, pred *pose.Predictor, cfg AppConfig) *App {
	if cfg.MinimumVsyncs < 1 {
		cfg.MinimumVsyncs = 1
	}
	if cfg.PipelineDepth < 1 {
		cfg.PipelineDepth = 1
	}
	if cfg.FieldOfView <= 0 {
		cfg.FieldOfView = 90
	}
	if cfg.EyeSize == 0 {
		cfg.EyeSize = 1024
	}
	return &App{comp: comp, est: est, pred: pred, cfg: cfg}
}

// Run binds the calling goroutine as the producer thread and renders until
// ctx is cancelled. Run it on a dedicated goroutine.
func (a *App) Run(ctx context.Context) error {
	tid := a.comp.BindProducerThread()
	slog.Info("sim: app render loop started", "tid", tid, "minimum_vsyncs", a.cfg.MinimumVsyncs)

	for n := 0; ctx.Err() == nil; n++ {
		displayAt := a.est.PredictedDisplayTime(a.cfg.MinimumVsyncs, a.cfg.PipelineDepth)
		head := a.pred.Predict(displayAt)

		cost := a.cfg.RenderTime
		if a.cfg.SlowEvery > 0 && n%a.cfg.SlowEvery == a.cfg.SlowEvery-1 {
			cost = a.cfg.SlowTime
		}
		if cost > 0 {
			time.Sleep(cost)
		}

		if err := a.comp.WarpSwap(a.frame(n, head)); err != nil {
			a.errors.Add(1)
			slog.Error("sim: WarpSwap failed", "frame", n, "error", err)
			return err
		}
		a.frames.Add(1)
	}

	slog.Info("sim: app render loop stopped", "frames", a.frames.Load())
	return ctx.Err()
}

// frame builds the submission for frame n. Textures cycle through three
// ids per eye (triple buffering).
func (a *App) frame(n int, head pose.SensorState) timewarp.WarpParms {
	size := gputypes.Extent3D{Width: a.cfg.EyeSize, Height: a.cfg.EyeSize, DepthOrArrayLayers: 1}

	parms := timewarp.WarpParms{MinimumVsyncs: a.cfg.MinimumVsyncs}
	for eye := range parms.Eyes {
		parms.Eyes[eye].Layers[0] = timewarp.EyeLayer{
			Image: timewarp.EyeImage{
				Texture: timewarp.TextureID(100 + 10*eye + n%3),
				Format:  gputypes.TextureFormatRGBA8Unorm,
				Size:    size,
			},
			RenderPose:  head.Predicted.Orientation,
			FieldOfView: a.cfg.FieldOfView,
		}
	}
	return parms
}

// Frames returns the number of frames submitted.
func (a *App) Frames() uint64 {
	return a.frames.Load()
}
