// Package telemetry publishes periodic compositor snapshots over MQTT.
//
// Payloads are msgpack-encoded Snapshot values: compositor counters, vsync
// estimate and feed stability, predictor state, the latest latched frame
// and recent per-eye timings.
package telemetry

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is one telemetry report.
type Snapshot struct {
	InstanceID string `msgpack:"instance_id"`
	SessionID  string `msgpack:"session_id"`
	Timestamp  int64  `msgpack:"ts_ms"` // unix milliseconds

	Compositor CompositorSnapshot `msgpack:"compositor"`
	Vsync      VsyncSnapshot      `msgpack:"vsync"`
	Prediction PredictionSnapshot `msgpack:"prediction"`
	LastLatch  *LatchSnapshot     `msgpack:"last_latch,omitempty"`
	EyeLog     []EyeTiming        `msgpack:"eye_log,omitempty"`
}

// CompositorSnapshot mirrors timewarp.CompositorStats.
type CompositorSnapshot struct {
	State             string `msgpack:"state"`
	Running           bool   `msgpack:"running"`
	Topology          string `msgpack:"topology"`
	Throttled         bool   `msgpack:"throttled"`
	VsyncCount        int64  `msgpack:"vsync_count"`
	EyeBufferCount    int64  `msgpack:"eye_buffer_count"`
	FramesWarped      uint64 `msgpack:"frames_warped"`
	PlaceholderFrames uint64 `msgpack:"placeholder_frames"`
	StaleFrames       uint64 `msgpack:"stale_frames"`
	SkippedSources    uint64 `msgpack:"skipped_sources"`
	LateEyes          uint64 `msgpack:"late_eyes"`
	PhaseTimeouts     uint64 `msgpack:"phase_timeouts"`
	Submissions       uint64 `msgpack:"submissions"`
	FenceTimeouts     uint64 `msgpack:"fence_timeouts"`
	PacingTimeouts    uint64 `msgpack:"pacing_timeouts"`
	WrongThreadCalls  uint64 `msgpack:"wrong_thread_calls"`
}

// VsyncSnapshot reports the vsync estimate and feed quality.
type VsyncSnapshot struct {
	RefreshHz   float64 `msgpack:"refresh_hz"`
	Degraded    bool    `msgpack:"degraded"`
	Samples     uint64  `msgpack:"samples"`
	Resyncs     uint64  `msgpack:"resyncs"`
	JitterMeanS float64 `msgpack:"jitter_mean_s"`
	Stable      bool    `msgpack:"stable"`
}

// PredictionSnapshot reports predictor state.
type PredictionSnapshot struct {
	Attached         bool    `msgpack:"attached"`
	Predictions      uint64  `msgpack:"predictions"`
	IdentityFallback uint64  `msgpack:"identity_fallback"`
	LongPredictions  uint64  `msgpack:"long_predictions"`
	YawCorrection    float64 `msgpack:"yaw_correction"`
}

// LatchSnapshot is the most recent latched frame plus a summary of the
// vsyncs latched since the previous report.
type LatchSnapshot struct {
	VsyncCount     int64   `msgpack:"vsync_count"`
	EyeBufferCount int64   `msgpack:"eye_buffer_count"`
	Placeholder    bool    `msgpack:"placeholder"`
	Skipped        int64   `msgpack:"skipped"` // summed over the window
	DisplayTime    float64 `msgpack:"display_time"`

	Latches      int `msgpack:"latches"`
	NewFrames    int `msgpack:"new_frames"`
	Placeholders int `msgpack:"placeholders"`
}

// EyeTiming is one eye log record.
type EyeTiming struct {
	Vsync          int64   `msgpack:"vsync"`
	Eye            int     `msgpack:"eye"`
	Sequence       int64   `msgpack:"seq"`
	Skipped        bool    `msgpack:"skipped"`
	IssueFinish    float64 `msgpack:"issue_finish"`
	CompleteFinish float64 `msgpack:"complete_finish"`
	PoseLatency    float64 `msgpack:"pose_latency"`
}

// Encode serializes the snapshot with msgpack.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("telemetry: encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a msgpack payload.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("telemetry: decode snapshot: %w", err)
	}
	return s, nil
}
