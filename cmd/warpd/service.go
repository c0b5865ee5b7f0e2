package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/health"
	"github.com/e7canasta/hmd-timewarp/internal/config"
	"github.com/e7canasta/hmd-timewarp/internal/control"
	"github.com/e7canasta/hmd-timewarp/latchbus"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/sim"
	"github.com/e7canasta/hmd-timewarp/telemetry"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// service wires the compositor to the simulated display, sensor, GPU and
// application, plus the health, telemetry and control surfaces.
type service struct {
	cfg *config.Config

	est  *vsync.Estimator
	pred *pose.Predictor
	bus  latchbus.Bus
	comp timewarp.Compositor

	feed   *sim.VsyncFeed
	sensor *sim.Sensor
	app    *sim.App

	checker  *health.Checker
	emitter  *telemetry.MQTTEmitter
	reporter *telemetry.Reporter
	control  *control.Handler

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	wg        sync.WaitGroup
	mu        sync.Mutex
	cancel    context.CancelFunc
	isRunning bool
	started   time.Time
}

func newService(cfg *config.Config) (*service, error) {
	clk := clock.System{}
	pc := cfg.PredictorConfig()
	pc.Clock = clk

	s := &service{
		cfg:        cfg,
		est:        vsync.NewEstimator(clk, cfg.VsyncConfig()),
		pred:       pose.NewPredictor(pc),
		bus:        latchbus.New(),
		shutdownCh: make(chan struct{}),
	}

	sc := cfg.Simulation
	s.feed = sim.NewVsyncFeed(s.est, clk, sim.VsyncFeedConfig{
		RefreshHz: cfg.Display.RefreshHz,
		Jitter:    time.Duration(sc.VsyncJitterUS) * time.Microsecond,
		DropEvery: sc.DropEvery,
	})
	s.sensor = sim.NewSensor(clk, sim.SensorConfig{
		RateHz:     sc.SensorHz,
		YawRateDPS: sc.YawRateDPS,
	})

	comp, err := timewarp.New(cfg.TimewarpConfig(), timewarp.Deps{
		Clock:     clk,
		Vsync:     s.est,
		Predictor: s.pred,
		GPU:       sim.NewGPU(sim.GPUConfig{FrameTime: millis(sc.GPUMS)}),
		Renderer:  sim.NewRenderer(),
		Latches:   s.bus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compositor: %w", err)
	}
	s.comp = comp

	s.app = sim.NewApp(comp, s.est, s.pred, sim.AppConfig{
		RenderTime:    millis(sc.RenderMS),
		MinimumVsyncs: cfg.Compositor.MinimumVsyncs,
		SlowEvery:     sc.SlowEvery,
		SlowTime:      millis(sc.SlowMS),
	})
	s.checker = health.NewChecker(comp, s.est, s.pred)

	slog.Info("warpd service created",
		"instance_id", cfg.InstanceID,
		"session_id", comp.SessionID(),
		"topology", cfg.Topology().Name(),
		"refresh_hz", cfg.Display.RefreshHz,
	)
	return s, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// shutdown command arrives.
func (s *service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("warpd: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.isRunning = true
	s.started = time.Now()
	s.mu.Unlock()

	// Display and sensor feeds
	s.goRun("vsync feed", func() error { return s.feed.Run(runCtx) })
	s.goRun("sensor", func() error { return s.sensor.Run(runCtx) })
	s.goRun("sensor attach", func() error {
		return s.pred.AttachWithRetry(runCtx, s.sensor.Open, s.cfg.BackoffConfig())
	})

	if err := s.comp.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start compositor: %w", err)
	}

	s.goRun("application", func() error { return s.app.Run(runCtx) })

	if s.cfg.Health.Enabled {
		s.goRun("health server", func() error { return s.checker.Serve(runCtx, s.cfg.Health.Port) })
	}

	if s.cfg.Telemetry.Enabled {
		if err := s.startTelemetry(runCtx); err != nil {
			// Telemetry is optional: the display keeps running without it
			slog.Warn("telemetry disabled", "error", err)
		}
	}

	slog.Info("warpd running")

	select {
	case <-ctx.Done():
	case <-s.shutdownCh:
	}
	return nil
}

func (s *service) startTelemetry(ctx context.Context) error {
	tc := s.cfg.Telemetry

	s.emitter = telemetry.NewMQTTEmitter(telemetry.MQTTConfig{
		Broker:   tc.Broker,
		ClientID: tc.ClientID,
		QoS:      tc.QoS,
	})
	if err := s.emitter.Connect(ctx); err != nil {
		return err
	}

	reporter, err := telemetry.NewReporter(s.emitter, telemetry.Sources{
		Compositor: s.comp,
		Vsync:      s.est,
		Predictor:  s.pred,
		Latches:    s.bus,
	}, telemetry.ReporterConfig{
		InstanceID: s.cfg.InstanceID,
		Topic:      tc.Topic,
		Interval:   time.Duration(tc.IntervalMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	s.reporter = reporter
	s.goRun("telemetry reporter", func() error { return reporter.Run(ctx) })

	s.control = control.NewHandler(control.Config{
		CommandTopic: tc.Control,
		QoS:          1,
	}, s.emitter.Client, s.callbacks())
	return s.control.Start(ctx)
}

func (s *service) callbacks() control.CommandCallbacks {
	return control.CommandCallbacks{
		OnGetStatus:    s.GetStatus,
		OnSetTopology:  s.comp.SetTopology,
		OnSetThrottled: s.comp.SetThrottled,
		OnRecenterYaw: func() error {
			s.pred.RecenterYaw()
			return nil
		},
		OnResetYaw: func() error {
			s.pred.ResetYaw()
			return nil
		},
		OnPauseVsync: func() error {
			s.feed.Pause(true)
			return nil
		},
		OnResumeVsync: func() error {
			s.feed.Pause(false)
			return nil
		},
		OnShutdown: func() error {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return nil
		},
	}
}

// GetStatus returns the status reported by the get_status command.
func (s *service) GetStatus() map[string]interface{} {
	cs := s.comp.Stats()
	vs := s.est.Stats()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.mu.Unlock()

	return map[string]interface{}{
		"instance_id":        s.cfg.InstanceID,
		"session_id":         cs.SessionID,
		"uptime_s":           int64(uptime.Seconds()),
		"state":              cs.State,
		"topology":           cs.Topology,
		"throttled":          cs.Throttled,
		"vsync_count":        cs.SwapState.VsyncCount,
		"eye_buffer_count":   cs.SwapState.EyeBufferCount,
		"frames_warped":      cs.FramesWarped,
		"placeholder_frames": cs.PlaceholderFrames,
		"stale_frames":       cs.StaleFrames,
		"refresh_hz":         vs.RefreshHz,
		"vsync_degraded":     vs.Degraded,
		"sensor_attached":    s.pred.Attached(),
		"sensor_stale":       s.pred.Stale(),
		"app_frames":         s.app.Frames(),
	}
}

// Shutdown stops components in dependency order: control plane first, then
// the compositor (which wakes any blocked producer), then the feeds.
func (s *service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	slog.Info("shutting down warpd")

	if s.control != nil {
		if err := s.control.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	if err := s.comp.Stop(); err != nil {
		slog.Error("failed to stop compositor", "error", err)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all goroutines finished")
	case <-ctx.Done():
		return fmt.Errorf("warpd: shutdown: %w", ctx.Err())
	}

	if s.emitter != nil {
		s.emitter.Disconnect()
	}
	s.bus.Close()

	s.mu.Lock()
	uptime := time.Since(s.started)
	s.isRunning = false
	s.mu.Unlock()

	st := s.comp.Stats()
	slog.Info("warpd shutdown complete",
		"uptime", uptime,
		"frames_warped", st.FramesWarped,
		"submissions", st.Submissions,
	)
	return nil
}

// goRun runs fn on the service WaitGroup, logging unexpected errors.
func (s *service) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("component stopped", "component", name, "error", err)
		}
	}()
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
