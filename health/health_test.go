package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/sim"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

type fixture struct {
	checker *Checker
	comp    timewarp.Compositor
	est     *vsync.Estimator
	pred    *pose.Predictor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	est := vsync.NewEstimator(clock.System{}, vsync.DefaultConfig())
	pred := pose.NewPredictor(pose.DefaultConfig())
	comp, err := timewarp.New(timewarp.DefaultConfig(), timewarp.Deps{
		Vsync:     est,
		Predictor: pred,
		GPU:       sim.NewGPU(sim.GPUConfig{}),
		Renderer:  sim.NewRenderer(),
	})
	require.NoError(t, err)
	return &fixture{checker: NewChecker(comp, est, pred), comp: comp, est: est, pred: pred}
}

func TestLivenessAlwaysOK(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alive"`)
}

func TestReadinessUnhealthyWhenStopped(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Contains(t, st.Reasons, "compositor not running")
}

// TestReadinessDegradedWithoutFeeds verifies a running compositor with no
// vsync samples and no sensor is ready but degraded.
func TestReadinessDegradedWithoutFeeds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.comp.Start(context.Background()))
	defer f.comp.Stop()

	rec := httptest.NewRecorder()
	f.checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, StatusDegraded, st.Status)
	assert.True(t, st.VsyncDegraded)
	assert.Contains(t, st.Reasons, "vsync feed degraded")
	assert.Contains(t, st.Reasons, "no sensor attached")
}

// TestReadinessHealthy runs the simulated feeds and an application long
// enough for the vsync feed to be stable.
func TestReadinessHealthy(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := sim.NewVsyncFeed(f.est, clock.System{}, sim.VsyncFeedConfig{RefreshHz: 60})
	sensor := sim.NewSensor(clock.System{}, sim.SensorConfig{})
	src, err := sensor.Open(ctx)
	require.NoError(t, err)
	f.pred.AttachSource(src)

	go feed.Run(ctx)
	go sensor.Run(ctx)
	require.NoError(t, f.comp.Start(ctx))
	defer f.comp.Stop()
	go sim.NewApp(f.comp, f.est, f.pred, sim.AppConfig{}).Run(ctx)

	time.Sleep(400 * time.Millisecond)

	st := f.checker.HealthCheck()
	t.Logf("status: %+v", st)
	assert.True(t, st.CompositorRunning)
	assert.False(t, st.VsyncDegraded)
	assert.True(t, st.SensorAttached)
	assert.Greater(t, st.EyeBufferCount, int64(0))
	assert.InDelta(t, 60, st.RefreshHz, 3)
}

func TestEyeLogHandler(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.comp.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.comp.Stop())

	rec := httptest.NewRecorder()
	f.checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/eyelog?n=4", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []timewarp.EyeLogEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	assert.Len(t, entries, 4)

	rec = httptest.NewRecorder()
	f.checker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/eyelog?n=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestStaleSensorIsDegraded verifies an attached sensor that stopped
// delivering samples is reported.
func TestStaleSensorIsDegraded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.comp.Start(context.Background()))
	defer f.comp.Stop()

	feed := pose.NewFeed()
	feed.Push(pose.Sample{Pose: pose.Identity(1), Status: pose.OrientationTracked})
	f.pred.AttachSource(feed)
	f.pred.Predict(2)

	st := f.checker.HealthCheck()
	assert.Equal(t, StatusDegraded, st.Status)
	assert.True(t, st.SensorAttached)
	assert.True(t, st.SensorStale)
	assert.Contains(t, st.Reasons, "sensor samples stale")
}
