package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/latchbus"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/sim"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// fakePublisher records payloads per topic.
type fakePublisher struct {
	mu       sync.Mutex
	payloads map[string][][]byte
	err      error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{payloads: make(map[string][][]byte)}
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads[topic] = append(p.payloads[topic], payload)
	return nil
}

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads[topic])
}

func newSources(t *testing.T) Sources {
	t.Helper()
	est := vsync.NewEstimator(clock.System{}, vsync.DefaultConfig())
	pred := pose.NewPredictor(pose.DefaultConfig())
	bus := latchbus.New()
	t.Cleanup(bus.Close)

	comp, err := timewarp.New(timewarp.DefaultConfig(), timewarp.Deps{
		Vsync:     est,
		Predictor: pred,
		GPU:       sim.NewGPU(sim.GPUConfig{}),
		Renderer:  sim.NewRenderer(),
		Latches:   bus,
	})
	require.NoError(t, err)
	return Sources{Compositor: comp, Vsync: est, Predictor: pred, Latches: bus}
}

func TestSnapshotEncodeDecode(t *testing.T) {
	in := Snapshot{
		InstanceID: "hmd-1",
		SessionID:  "abc",
		Timestamp:  1234,
		Compositor: CompositorSnapshot{State: "warp", VsyncCount: 42, EyeBufferCount: 40},
		LastLatch:  &LatchSnapshot{VsyncCount: 42, Placeholder: true},
		EyeLog:     []EyeTiming{{Vsync: 42, Eye: 1, PoseLatency: 0.012}},
	}

	data, err := in.Encode()
	require.NoError(t, err)

	out, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeSnapshot([]byte{0xc1})
	assert.Error(t, err)
}

// TestReporterSnapshotFromRunningCompositor verifies a report carries the
// live compositor state and the newest latch.
func TestReporterSnapshotFromRunningCompositor(t *testing.T) {
	src := newSources(t)
	pub := newFakePublisher()

	r, err := NewReporter(pub, src, ReporterConfig{InstanceID: "hmd-1", Topic: "hmd/telemetry"})
	require.NoError(t, err)

	require.NoError(t, src.Compositor.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, src.Compositor.Stop())

	require.NoError(t, r.ReportOnce())
	require.Equal(t, 1, pub.count("hmd/telemetry"))

	snap, err := DecodeSnapshot(pub.payloads["hmd/telemetry"][0])
	require.NoError(t, err)
	assert.Equal(t, "hmd-1", snap.InstanceID)
	assert.Equal(t, src.Compositor.SessionID(), snap.SessionID)
	assert.Equal(t, "stopped", snap.Compositor.State)
	assert.Greater(t, snap.Compositor.FramesWarped, uint64(0))
	assert.True(t, snap.Vsync.Degraded, "no vsync feed attached")
	require.NotNil(t, snap.LastLatch)
	assert.True(t, snap.LastLatch.Placeholder)
	assert.Greater(t, snap.LastLatch.Latches, 1, "100ms of vsyncs folded into one report")
	assert.Equal(t, snap.LastLatch.Latches, snap.LastLatch.Placeholders)
	assert.Len(t, snap.EyeLog, 8)
}

// TestReporterLatchWindow verifies how the reporter summarizes latches.
//
// Contract:
//   - no report carries a latch before the first one is published
//   - a report summarizes the latches since the previous report
//   - a report with no new latches keeps the last shown frame, zero counters
//   - latches of other sessions are ignored
func TestReporterLatchWindow(t *testing.T) {
	src := newSources(t)
	session := src.Compositor.SessionID()

	r, err := NewReporter(newFakePublisher(), src, ReporterConfig{})
	require.NoError(t, err)

	assert.Nil(t, r.Snapshot().LastLatch)

	for _, l := range []latchbus.Latch{
		{SessionID: session, VsyncCount: 1, Placeholder: true},
		{SessionID: session, VsyncCount: 2, EyeBufferCount: 1},
		{SessionID: "other", VsyncCount: 3, EyeBufferCount: 9},
		{SessionID: session, VsyncCount: 3, EyeBufferCount: 1},
		{SessionID: session, VsyncCount: 4, EyeBufferCount: 3, Skipped: 1},
	} {
		src.Latches.Publish(l)
	}

	got := r.Snapshot().LastLatch
	require.NotNil(t, got)
	assert.Equal(t, LatchSnapshot{
		VsyncCount:     4,
		EyeBufferCount: 3,
		Skipped:        1,
		Latches:        4,
		NewFrames:      2,
		Placeholders:   1,
	}, *got)

	got = r.Snapshot().LastLatch
	require.NotNil(t, got)
	assert.Equal(t, LatchSnapshot{VsyncCount: 4, EyeBufferCount: 3}, *got)
	t.Logf("✅ window summarized, then held: %+v", *got)
}

func TestReporterRunPublishesPeriodically(t *testing.T) {
	src := newSources(t)
	pub := newFakePublisher()

	r, err := NewReporter(pub, src, ReporterConfig{Topic: "t", Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, pub.count("t"), 5)
	assert.Equal(t, uint64(pub.count("t")), r.Reported())

	// Run unsubscribed from the bus
	_, ok := src.Latches.Stats().Subscribers[latchSubscriberID]
	assert.False(t, ok)
}

func TestReporterPublishErrorCounted(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("broker down")

	r, err := NewReporter(pub, Sources{}, ReporterConfig{Topic: "t"})
	require.NoError(t, err)

	assert.Error(t, r.ReportOnce())
	assert.Equal(t, uint64(1), r.failed.Load())
	assert.Equal(t, uint64(0), r.Reported())
}

func TestMQTTEmitterPublishWhileDisconnected(t *testing.T) {
	e := NewMQTTEmitter(MQTTConfig{Broker: "localhost:1883", ClientID: "test"})

	err := e.Publish("t", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)

	stats := e.Stats()
	assert.False(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.Errors)
}
