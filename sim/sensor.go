package sim

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/pose"
)

// ErrSensorDisconnected is returned by Open while the device is unplugged.
var ErrSensorDisconnected = errors.New("sim: sensor disconnected")

// SensorConfig configures the simulated head tracker.
type SensorConfig struct {
	RateHz     float64 // fused sample rate (default 500)
	YawRateDPS float64 // constant head yaw velocity, degrees/second
}

// Sensor is a head tracker turning at a constant yaw rate.
type Sensor struct {
	clock clock.Clock
	cfg   SensorConfig
	feed  *pose.Feed
	start float64

	connected atomic.Bool
}

// NewSensor creates a connected sensor.
func NewSensor(clk clock.Clock, cfg SensorConfig) *Sensor {
	if cfg.RateHz <= 0 {
		cfg.RateHz = 500
	}
	s := &Sensor{clock: clk, cfg: cfg, feed: pose.NewFeed(), start: clk.Now()}
	s.connected.Store(true)
	return s
}

// Open implements pose.OpenFunc.
func (s *Sensor) Open(ctx context.Context) (pose.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.connected.Load() {
		return nil, ErrSensorDisconnected
	}
	return s.feed, nil
}

// Connect plugs the device in. Disconnect unplugs it: no more samples.
func (s *Sensor) Connect()    { s.connected.Store(true) }
func (s *Sensor) Disconnect() { s.connected.Store(false) }

// Run pushes fused samples until ctx is cancelled.
func (s *Sensor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.cfg.RateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.connected.Load() {
				s.feed.Push(s.SampleAt(s.clock.Now()))
			}
		}
	}
}

// SampleAt returns the ground-truth sample at time t.
func (s *Sensor) SampleAt(t float64) pose.Sample {
	rate := mgl64.DegToRad(s.cfg.YawRateDPS)
	yaw := math.Mod(rate*(t-s.start), 2*math.Pi)

	return pose.Sample{
		Pose: pose.Pose{
			Orientation:     mgl64.QuatRotate(yaw, mgl64.Vec3{0, 1, 0}),
			AngularVelocity: mgl64.Vec3{0, rate, 0},
			TimeInSeconds:   t,
		},
		Status:      pose.OrientationTracked | pose.HmdConnected,
		Temperature: 35,
	}
}

// Pushed returns the number of samples delivered.
func (s *Sensor) Pushed() uint64 {
	return s.feed.Pushed()
}
