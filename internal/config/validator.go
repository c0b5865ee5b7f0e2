package config

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return invalid("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return invalid("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	// Display
	if cfg.Display.RefreshHz == 0 {
		cfg.Display.RefreshHz = 60
	}
	if cfg.Display.RefreshHz < 24 || cfg.Display.RefreshHz > 240 {
		return invalid("display.refresh_hz must be in [24, 240], got %v", cfg.Display.RefreshHz)
	}

	if err := validateCompositor(&cfg.Compositor); err != nil {
		return err
	}

	// Vsync
	if cfg.Vsync.Blend == 0 {
		cfg.Vsync.Blend = 0.125
	}
	if cfg.Vsync.Blend < 0 || cfg.Vsync.Blend > 1 {
		return invalid("vsync.blend must be in (0, 1], got %v", cfg.Vsync.Blend)
	}

	if err := validatePrediction(&cfg.Prediction, cfg.Display.RefreshHz); err != nil {
		return err
	}

	// Swap programs: the merged table must still be consistent
	if err := cfg.ProgramTable().Validate(); err != nil {
		return fmt.Errorf("%w: swap_programs: %w", ErrInvalidConfig, err)
	}

	if err := validateTelemetry(&cfg.Telemetry, cfg.InstanceID); err != nil {
		return err
	}

	// Health
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}
	if cfg.Health.Port < 1 || cfg.Health.Port > 65535 {
		return invalid("health.port must be in [1, 65535], got %d", cfg.Health.Port)
	}

	validateSimulation(&cfg.Simulation)
	return nil
}

func validateCompositor(c *CompositorConfig) error {
	if c.PhaseTimeoutMS == 0 {
		c.PhaseTimeoutMS = 50
	}
	if c.FenceTimeoutMS == 0 {
		c.FenceTimeoutMS = 100
	}
	if c.PacingTimeoutMS == 0 {
		c.PacingTimeoutMS = 100
	}
	for name, v := range map[string]int{
		"phase_timeout_ms":  c.PhaseTimeoutMS,
		"fence_timeout_ms":  c.FenceTimeoutMS,
		"pacing_timeout_ms": c.PacingTimeoutMS,
	} {
		if v < 1 || v > 1000 {
			return invalid("compositor.%s must be in [1, 1000], got %d", name, v)
		}
	}

	if c.MinimumVsyncs == 0 {
		c.MinimumVsyncs = 1
	}
	if c.MinimumVsyncs < 1 || c.MinimumVsyncs > 4 {
		return invalid("compositor.minimum_vsyncs must be in [1, 4], got %d", c.MinimumVsyncs)
	}

	if c.Thread.Priority < -20 || c.Thread.Priority > 19 {
		return invalid("compositor.thread.priority must be in [-20, 19], got %d", c.Thread.Priority)
	}
	for _, cpu := range c.Thread.CPUs {
		if cpu < 0 {
			return invalid("compositor.thread.cpus: negative cpu %d", cpu)
		}
	}
	return nil
}

func validatePrediction(p *PredictionConfig, refreshHz float64) error {
	if p.MaxPredictionMS == 0 {
		p.MaxPredictionMS = 100
	}
	if p.MaxPredictionMS < 1 || p.MaxPredictionMS > 500 {
		return invalid("prediction.max_prediction_ms must be in [1, 500], got %d", p.MaxPredictionMS)
	}
	if p.LongPredictionMS == 0 {
		p.LongPredictionMS = 1000 / refreshHz
	}
	if p.LongPredictionMS < 0 {
		return invalid("prediction.long_prediction_ms must be positive")
	}
	if p.StaleSampleMS == 0 {
		p.StaleSampleMS = max(250, p.MaxPredictionMS)
	}
	if p.StaleSampleMS < p.MaxPredictionMS {
		return invalid("prediction.stale_sample_ms (%d) must not be below max_prediction_ms (%d)", p.StaleSampleMS, p.MaxPredictionMS)
	}

	if p.Attach.MaxRetries == 0 {
		p.Attach.MaxRetries = 5
	}
	if p.Attach.RetryDelayMS == 0 {
		p.Attach.RetryDelayMS = 250
	}
	if p.Attach.MaxRetryDelayMS == 0 {
		p.Attach.MaxRetryDelayMS = 5000
	}
	if p.Attach.RetryDelayMS > p.Attach.MaxRetryDelayMS {
		return invalid("prediction.attach.retry_delay_ms exceeds max_retry_delay_ms")
	}
	return nil
}

func validateTelemetry(t *TelemetryConfig, instanceID string) error {
	if !t.Enabled {
		return nil
	}
	if t.Broker == "" {
		return invalid("telemetry.broker is required when telemetry is enabled")
	}
	if t.ClientID == "" {
		t.ClientID = "warpd-" + instanceID
	}
	if t.Topic == "" {
		t.Topic = fmt.Sprintf("hmd/telemetry/%s", instanceID)
	}
	if t.Control == "" {
		t.Control = fmt.Sprintf("hmd/control/%s", instanceID)
	}
	if t.QoS > 2 {
		return invalid("telemetry.qos must be 0, 1 or 2, got %d", t.QoS)
	}
	if t.IntervalMS == 0 {
		t.IntervalMS = 1000
	}
	if t.IntervalMS < 10 {
		return invalid("telemetry.interval_ms must be >= 10, got %d", t.IntervalMS)
	}
	return nil
}

func validateSimulation(s *SimulationConfig) {
	if s.SensorHz <= 0 {
		s.SensorHz = 500
	}
	if s.RenderMS < 0 {
		s.RenderMS = 0
	}
	if s.GPUMS < 0 {
		s.GPUMS = 0
	}
}
