package control

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/sim"
	"github.com/e7canasta/hmd-timewarp/swapprog"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

func newCompositorHandler(t *testing.T) (*Handler, timewarp.Compositor) {
	t.Helper()
	comp, err := timewarp.New(timewarp.DefaultConfig(), timewarp.Deps{
		Vsync:     vsync.NewEstimator(clock.System{}, vsync.DefaultConfig()),
		Predictor: pose.NewPredictor(pose.DefaultConfig()),
		GPU:       sim.NewGPU(sim.GPUConfig{}),
		Renderer:  sim.NewRenderer(),
	})
	require.NoError(t, err)

	h := NewHandler(Config{CommandTopic: "hmd/control/test"}, nil, CommandCallbacks{
		OnGetStatus: func() map[string]interface{} {
			st := comp.Stats()
			return map[string]interface{}{"topology": st.Topology, "throttled": st.Throttled}
		},
		OnSetTopology:  comp.SetTopology,
		OnSetThrottled: comp.SetThrottled,
	})
	return h, comp
}

// TestSetTopologyAndThrottled drives the compositor through commands.
//
// Contract:
//   - set_topology reads the three flags, missing ones default to false
//   - set_throttled requires a bool parameter
//   - get_status reflects both changes
func TestSetTopologyAndThrottled(t *testing.T) {
	h, comp := newCompositorHandler(t)

	resp := h.handleCommand(Command{Command: "set_topology", Params: map[string]interface{}{
		"single_thread": true,
	}})
	require.Equal(t, "success", resp.Status, resp.Error)
	assert.Equal(t, "sync_swapped", resp.Data["topology"])
	assert.Equal(t, swapprog.Topology{SingleThread: true}.Name(), comp.Stats().Topology)

	resp = h.handleCommand(Command{Command: "set_throttled", Params: map[string]interface{}{"throttled": true}})
	require.Equal(t, "success", resp.Status, resp.Error)

	resp = h.handleCommand(Command{Command: "get_status"})
	require.Equal(t, "success", resp.Status)
	assert.Equal(t, "sync_swapped", resp.Data["topology"])
	assert.Equal(t, true, resp.Data["throttled"])
	assert.Equal(t, false, resp.Data["vsync_paused"])

	t.Logf("✅ topology and throttling applied by command")
}

func TestInvalidParams(t *testing.T) {
	h, _ := newCompositorHandler(t)

	resp := h.handleCommand(Command{Command: "set_topology", Params: map[string]interface{}{"dual_mono": "yes"}})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "dual_mono")

	resp = h.handleCommand(Command{Command: "set_throttled"})
	assert.Equal(t, "error", resp.Status)

	resp = h.handleCommand(Command{Command: "recenter_yaw"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "recenter_yaw not implemented", resp.Error)

	resp = h.handleCommand(Command{Command: "warp_faster"})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestPauseVsyncTracksState(t *testing.T) {
	feedErr := errors.New("feed busy")
	var fail atomic.Bool
	h := NewHandler(Config{CommandTopic: "c"}, nil, CommandCallbacks{
		OnPauseVsync: func() error {
			if fail.Load() {
				return feedErr
			}
			return nil
		},
		OnResumeVsync: func() error { return nil },
	})
	assert.Equal(t, "c/response", h.cfg.ResponseTopic)

	resp := h.handleCommand(Command{Command: "pause_vsync"})
	assert.Equal(t, "success", resp.Status)
	assert.True(t, h.VsyncPaused())

	resp = h.handleCommand(Command{Command: "resume_vsync"})
	assert.Equal(t, "success", resp.Status)
	assert.False(t, h.VsyncPaused())

	fail.Store(true)
	resp = h.handleCommand(Command{Command: "pause_vsync"})
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "feed busy", resp.Error)
	assert.False(t, h.VsyncPaused())
}

// TestEnqueueProcessesAsync verifies raw payloads flow through the queue
// to the callbacks, and invalid JSON is rejected without queueing.
func TestEnqueueProcessesAsync(t *testing.T) {
	var recentered atomic.Int32
	h := NewHandler(Config{CommandTopic: "c"}, nil, CommandCallbacks{
		OnRecenterYaw: func() error {
			recentered.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.processCommands(ctx)

	h.Enqueue([]byte(`{"command":"recenter_yaw"}`))
	h.Enqueue([]byte(`{not json`))
	h.Enqueue([]byte(`{"command":"recenter_yaw"}`))

	assert.Eventually(t, func() bool { return recentered.Load() == 2 },
		time.Second, 5*time.Millisecond)
	assert.Len(t, h.commands, 0)
}
