// Package health serves liveness and readiness endpoints over the
// compositor, vsync and prediction state.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// placeholderDegradedAfter is the placeholder streak (vsyncs) after which
// the display is reported degraded (~0.5s at 60Hz).
const placeholderDegradedAfter = 30

// Status is the readiness report.
type Status struct {
	Status        string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64  `json:"uptime_seconds"`
	SessionID     string `json:"session_id"`

	CompositorRunning bool   `json:"compositor_running"`
	CompositorState   string `json:"compositor_state"`
	VsyncCount        int64  `json:"vsync_count"`
	EyeBufferCount    int64  `json:"eye_buffer_count"`
	PlaceholderStreak uint64 `json:"placeholder_streak"`

	VsyncDegraded bool    `json:"vsync_degraded"`
	VsyncStable   bool    `json:"vsync_stable"`
	RefreshHz     float64 `json:"refresh_hz"`

	SensorAttached bool `json:"sensor_attached"`
	SensorStale    bool `json:"sensor_stale"`

	Reasons []string `json:"reasons,omitempty"`
}

// Checker evaluates service health.
type Checker struct {
	comp    timewarp.Compositor
	est     *vsync.Estimator
	pred    *pose.Predictor
	started time.Time
}

// NewChecker creates a checker. est and pred may be nil.
func NewChecker(comp timewarp.Compositor, est *vsync.Estimator, pred *pose.Predictor) *Checker {
	return &Checker{comp: comp, est: est, pred: pred, started: time.Now()}
}

// HealthCheck returns the current health status.
//
//   - unhealthy: compositor not running
//   - degraded: vsync feed degraded or unstable, no sensor attached, stale
//     sensor samples, or a long placeholder streak
//   - healthy: otherwise
func (c *Checker) HealthCheck() Status {
	st := c.comp.Stats()

	status := Status{
		Status:            StatusHealthy,
		UptimeSeconds:     int64(time.Since(c.started).Seconds()),
		SessionID:         st.SessionID,
		CompositorRunning: st.Running,
		CompositorState:   st.State,
		VsyncCount:        st.SwapState.VsyncCount,
		EyeBufferCount:    st.SwapState.EyeBufferCount,
		PlaceholderStreak: st.PlaceholderStreak,
	}

	if c.est != nil {
		vs := c.est.Stats()
		status.VsyncDegraded = vs.Degraded
		status.RefreshHz = vs.RefreshHz
		status.VsyncStable = c.est.FeedStats().IsStable
		if vs.Degraded {
			status.Reasons = append(status.Reasons, "vsync feed degraded")
		} else if !status.VsyncStable {
			status.Reasons = append(status.Reasons, "vsync feed unstable")
		}
	}

	if c.pred != nil {
		status.SensorAttached = c.pred.Attached()
		status.SensorStale = c.pred.Stale()
		if !status.SensorAttached {
			status.Reasons = append(status.Reasons, "no sensor attached")
		} else if status.SensorStale {
			status.Reasons = append(status.Reasons, "sensor samples stale")
		}
	}

	if st.PlaceholderStreak >= placeholderDegradedAfter {
		status.Reasons = append(status.Reasons,
			fmt.Sprintf("no eye buffers for %d vsyncs", st.PlaceholderStreak))
	}

	if !st.Running {
		status.Status = StatusUnhealthy
		status.Reasons = append(status.Reasons, "compositor not running")
	} else if len(status.Reasons) > 0 {
		status.Status = StatusDegraded
	}

	return status
}

// LivenessHandler handles /health: 200 while the process is alive.
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "alive",
		"uptime": int64(time.Since(c.started).Seconds()),
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles /readiness: 200 when healthy or degraded,
// 503 when unhealthy.
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := c.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}

// EyeLogHandler handles /eyelog?n=N: recent per-eye timings as JSON.
func (c *Checker) EyeLogHandler(w http.ResponseWriter, r *http.Request) {
	n := 64
	if q := r.URL.Query().Get("n"); q != "" {
		if _, err := fmt.Sscanf(q, "%d", &n); err != nil {
			http.Error(w, "n must be an integer", http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(c.comp.EyeLog(n))
}

// Handler returns the mux with /health, /readiness and /eyelog.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.LivenessHandler)
	mux.HandleFunc("/readiness", c.ReadinessHandler)
	mux.HandleFunc("/eyelog", c.EyeLogHandler)
	return mux
}

// Serve runs the health server on port until ctx is cancelled.
func (c *Checker) Serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      c.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("health: starting server",
		"port", port,
		"endpoints", []string{"/health", "/readiness", "/eyelog"},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health: server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
