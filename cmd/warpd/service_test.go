package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hmd-timewarp/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{InstanceID: "warpd-test"}
	cfg.Simulation.RenderMS = 4
	cfg.Simulation.GPUMS = 2
	cfg.Simulation.YawRateDPS = 30
	require.NoError(t, config.Validate(cfg))
	return cfg
}

// TestServiceRunAndShutdownCommand runs the fully simulated pipeline.
//
// Contract:
//   - frames flow from the simulated application to the compositor
//   - the shutdown command returns Run without cancelling its context
//   - Shutdown stops every component within the timeout
func TestServiceRunAndShutdownCommand(t *testing.T) {
	svc, err := newService(testConfig(t))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(context.Background()) }()

	assert.Eventually(t, func() bool {
		st := svc.GetStatus()
		return st["eye_buffer_count"].(int64) > 5 && st["sensor_attached"].(bool)
	}, 3*time.Second, 20*time.Millisecond)

	status := svc.GetStatus()
	t.Logf("status: %v", status)
	assert.Equal(t, "warpd-test", status["instance_id"])
	assert.Equal(t, "async_swapped", status["topology"])

	require.NoError(t, svc.callbacks().OnShutdown())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Equal(t, "stopped", svc.comp.Stats().State)

	// Second shutdown is a no-op
	assert.NoError(t, svc.Shutdown(ctx))

	t.Logf("✅ warpd pipeline ran and shut down cleanly")
}

func TestServiceRejectsDoubleRun(t *testing.T) {
	svc, err := newService(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	assert.Eventually(t, func() bool { return svc.comp.Stats().Running }, time.Second, 10*time.Millisecond)
	assert.Error(t, svc.Run(ctx))

	cancel()
	require.NoError(t, <-errCh)
	require.NoError(t, svc.Shutdown(context.Background()))
}
