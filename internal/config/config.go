package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/swapprog"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// Config represents the complete warpd configuration
type Config struct {
	InstanceID       string `yaml:"instance_id" toml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s" toml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)

	Display      DisplayConfig       `yaml:"display" toml:"display"`
	Compositor   CompositorConfig    `yaml:"compositor" toml:"compositor"`
	Vsync        VsyncConfig         `yaml:"vsync" toml:"vsync"`
	Prediction   PredictionConfig    `yaml:"prediction" toml:"prediction"`
	SwapPrograms *SwapProgramsConfig `yaml:"swap_programs,omitempty" toml:"swap_programs,omitempty"`
	Telemetry    TelemetryConfig     `yaml:"telemetry" toml:"telemetry"`
	Health       HealthConfig        `yaml:"health" toml:"health"`
	Simulation   SimulationConfig    `yaml:"simulation" toml:"simulation"`
}

// DisplayConfig describes the panel
type DisplayConfig struct {
	RefreshHz   float64 `yaml:"refresh_hz" toml:"refresh_hz"`     // nominal refresh (default: 60)
	FrontBuffer bool    `yaml:"front_buffer" toml:"front_buffer"` // render to the scanned-out buffer
}

// CompositorConfig contains compositor settings
type CompositorConfig struct {
	SingleThread       bool         `yaml:"single_thread" toml:"single_thread"`
	DualMono           bool         `yaml:"dual_mono" toml:"dual_mono"`
	PhaseTimeoutMS     int          `yaml:"phase_timeout_ms" toml:"phase_timeout_ms"`
	FenceTimeoutMS     int          `yaml:"fence_timeout_ms" toml:"fence_timeout_ms"`
	PacingTimeoutMS    int          `yaml:"pacing_timeout_ms" toml:"pacing_timeout_ms"`
	MinimumVsyncs      int          `yaml:"minimum_vsyncs" toml:"minimum_vsyncs"` // 1 = full rate, 2 = half rate
	DisableChromatic   bool         `yaml:"disable_chromatic" toml:"disable_chromatic"`
	Throttled          bool         `yaml:"throttled" toml:"throttled"`
	StrictThreadChecks bool         `yaml:"strict_thread_checks" toml:"strict_thread_checks"` // panic on WarpSwap from the wrong thread
	BlackTexture       uint32       `yaml:"black_texture" toml:"black_texture"`
	LoadingTexture     uint32       `yaml:"loading_texture" toml:"loading_texture"`
	Thread             ThreadConfig `yaml:"thread" toml:"thread"`
}

// ThreadConfig contains compositor thread scheduling
type ThreadConfig struct {
	Priority int   `yaml:"priority" toml:"priority"` // nice value, -20..19 (0 = inherit)
	CPUs     []int `yaml:"cpus" toml:"cpus"`         // pin to these CPUs (empty = no pinning)
}

// VsyncConfig contains vsync estimator settings
type VsyncConfig struct {
	Blend float64 `yaml:"blend" toml:"blend"` // IIR weight of a new period measurement (default: 0.125)
}

// PredictionConfig contains pose predictor settings
type PredictionConfig struct {
	MaxPredictionMS  int          `yaml:"max_prediction_ms" toml:"max_prediction_ms"`   // clamp (default: 100)
	LongPredictionMS float64      `yaml:"long_prediction_ms" toml:"long_prediction_ms"` // flag threshold (default: one 60Hz period)
	StaleSampleMS    int          `yaml:"stale_sample_ms" toml:"stale_sample_ms"`       // identity beyond this sample age (default: 250)
	Attach           AttachConfig `yaml:"attach" toml:"attach"`
}

// AttachConfig contains sensor attach retry settings
type AttachConfig struct {
	MaxRetries      int `yaml:"max_retries" toml:"max_retries"`
	RetryDelayMS    int `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	MaxRetryDelayMS int `yaml:"max_retry_delay_ms" toml:"max_retry_delay_ms"`
}

// SwapProgramsConfig overrides program rows of the default table
type SwapProgramsConfig struct {
	AsyncFrontBuffer   *ProgramConfig `yaml:"async_front_buffer,omitempty" toml:"async_front_buffer,omitempty"`
	AsyncSwappedBuffer *ProgramConfig `yaml:"async_swapped_buffer,omitempty" toml:"async_swapped_buffer,omitempty"`
	SyncFrontBuffer    *ProgramConfig `yaml:"sync_front_buffer,omitempty" toml:"sync_front_buffer,omitempty"`
	SyncSwappedBuffer  *ProgramConfig `yaml:"sync_swapped_buffer,omitempty" toml:"sync_swapped_buffer,omitempty"`
}

// ProgramConfig is one swap program row
type ProgramConfig struct {
	DeltaVsync       [2]float64    `yaml:"delta_vsync" toml:"delta_vsync"`
	PredictionPoints [2][2]float64 `yaml:"prediction_points" toml:"prediction_points"`
}

// TelemetryConfig contains MQTT telemetry settings
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Broker     string `yaml:"broker" toml:"broker"`
	ClientID   string `yaml:"client_id" toml:"client_id"`
	Topic      string `yaml:"topic" toml:"topic"`
	Control    string `yaml:"control_topic" toml:"control_topic"` // commands in, responses on <control_topic>/response
	QoS        byte   `yaml:"qos" toml:"qos"`
	IntervalMS int    `yaml:"interval_ms" toml:"interval_ms"`
}

// HealthConfig contains the health server settings
type HealthConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// SimulationConfig drives the simulated collaborators
type SimulationConfig struct {
	RenderMS      float64 `yaml:"render_ms" toml:"render_ms"`             // app CPU time per frame
	GPUMS         float64 `yaml:"gpu_ms" toml:"gpu_ms"`                   // fence signal delay
	YawRateDPS    float64 `yaml:"yaw_rate_dps" toml:"yaw_rate_dps"`       // simulated head turn
	SensorHz      float64 `yaml:"sensor_hz" toml:"sensor_hz"`             // fused sample rate
	VsyncJitterUS int     `yaml:"vsync_jitter_us" toml:"vsync_jitter_us"` // vsync timestamp noise
	DropEvery     int     `yaml:"drop_every" toml:"drop_every"`           // lose every Nth vsync interrupt
	SlowEvery     int     `yaml:"slow_every" toml:"slow_every"`           // every Nth frame is slow
	SlowMS        float64 `yaml:"slow_ms" toml:"slow_ms"`
}

// Load reads and parses a configuration file. The format is chosen by
// extension: .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse toml config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Topology returns the display/threading topology.
func (c *Config) Topology() swapprog.Topology {
	return swapprog.Topology{
		SingleThread:    c.Compositor.SingleThread,
		DualMonoDisplay: c.Compositor.DualMono,
		FrontBuffer:     c.Display.FrontBuffer,
	}
}

// ProgramTable returns the default table with configured overrides.
func (c *Config) ProgramTable() swapprog.Table {
	tb := swapprog.DefaultTable()
	if c.SwapPrograms == nil {
		return tb
	}
	override := func(dst *swapprog.SwapProgram, p *ProgramConfig) {
		if p != nil {
			dst.DeltaVsync = p.DeltaVsync
			dst.PredictionPoints = p.PredictionPoints
		}
	}
	override(&tb.AsyncFrontBuffer, c.SwapPrograms.AsyncFrontBuffer)
	override(&tb.AsyncSwappedBuffer, c.SwapPrograms.AsyncSwappedBuffer)
	override(&tb.SyncFrontBuffer, c.SwapPrograms.SyncFrontBuffer)
	override(&tb.SyncSwappedBuffer, c.SwapPrograms.SyncSwappedBuffer)
	return tb
}

// TimewarpConfig returns the compositor configuration.
func (c *Config) TimewarpConfig() timewarp.Config {
	tc := timewarp.DefaultConfig()
	tc.Topology = c.Topology()
	tc.Programs = c.ProgramTable()
	tc.PhaseTimeout = ms(c.Compositor.PhaseTimeoutMS)
	tc.FenceTimeout = ms(c.Compositor.FenceTimeoutMS)
	tc.PacingTimeout = ms(c.Compositor.PacingTimeoutMS)
	tc.StrictThreadChecks = c.Compositor.StrictThreadChecks
	tc.DisableChromatic = c.Compositor.DisableChromatic
	tc.Throttled = c.Compositor.Throttled
	if c.Compositor.BlackTexture != 0 {
		tc.BlackTexture = timewarp.TextureID(c.Compositor.BlackTexture)
	}
	if c.Compositor.LoadingTexture != 0 {
		tc.LoadingTexture = timewarp.TextureID(c.Compositor.LoadingTexture)
	}
	tc.ThreadPriority = c.Compositor.Thread.Priority
	tc.ThreadCPUs = c.Compositor.Thread.CPUs
	return tc
}

// VsyncConfig returns the estimator configuration.
func (c *Config) VsyncConfig() vsync.Config {
	return vsync.Config{
		DefaultPeriod: time.Duration(float64(time.Second) / c.Display.RefreshHz),
		Blend:         c.Vsync.Blend,
	}
}

// PredictorConfig returns the predictor configuration.
func (c *Config) PredictorConfig() pose.Config {
	return pose.Config{
		MaxPrediction:  ms(c.Prediction.MaxPredictionMS),
		LongPrediction: time.Duration(c.Prediction.LongPredictionMS * float64(time.Millisecond)),
		StaleAfter:     ms(c.Prediction.StaleSampleMS),
	}
}

// BackoffConfig returns the sensor attach retry configuration.
func (c *Config) BackoffConfig() pose.BackoffConfig {
	return pose.BackoffConfig{
		MaxRetries:    c.Prediction.Attach.MaxRetries,
		RetryDelay:    ms(c.Prediction.Attach.RetryDelayMS),
		MaxRetryDelay: ms(c.Prediction.Attach.MaxRetryDelayMS),
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
