package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/hmd-timewarp/latchbus"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/timewarp"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// latchSubscriberID is the reporter's latchbus subscription.
const latchSubscriberID = "telemetry"

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Sources are the components a report is built from.
// Latches is optional.
type Sources struct {
	Compositor timewarp.Compositor
	Vsync      *vsync.Estimator
	Predictor  *pose.Predictor
	Latches    latchbus.Bus
}

// ReporterConfig configures periodic reporting.
type ReporterConfig struct {
	InstanceID    string
	Topic         string
	Interval      time.Duration // default 1s
	EyeLogEntries int           // eye log records per report (default 8)
}

// Reporter publishes a Snapshot every Interval.
type Reporter struct {
	pub Publisher
	src Sources
	cfg ReporterConfig

	latches latchbus.Receiver

	// window is the last latch window read from the bus. It is kept across
	// reports so a report with no new latches still names the shown frame.
	windowMu sync.Mutex
	window   latchbus.Window

	reported atomic.Uint64
	failed   atomic.Uint64
}

// NewReporter creates a reporter. With Sources.Latches set it subscribes a
// coalescing window for the compositor's session, so each report summarizes
// every vsync latched since the previous one.
func NewReporter(pub Publisher, src Sources, cfg ReporterConfig) (*Reporter, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.EyeLogEntries <= 0 {
		cfg.EyeLogEntries = 8
	}

	r := &Reporter{pub: pub, src: src, cfg: cfg}
	if src.Latches != nil {
		var f latchbus.Filter
		if src.Compositor != nil {
			f.SessionID = src.Compositor.SessionID()
		}
		rx, err := src.Latches.SubscribeWindow(latchSubscriberID, f)
		if err != nil {
			return nil, err
		}
		r.latches = rx
	}
	return r, nil
}

// Run reports until ctx is cancelled, then unsubscribes.
func (r *Reporter) Run(ctx context.Context) error {
	defer r.close()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.Info("telemetry: reporter started", "topic", r.cfg.Topic, "interval", r.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("telemetry: reporter stopped", "reported", r.reported.Load(), "failed", r.failed.Load())
			return ctx.Err()
		case <-ticker.C:
			r.ReportOnce()
		}
	}
}

// ReportOnce builds, encodes and publishes one snapshot.
func (r *Reporter) ReportOnce() error {
	payload, err := r.Snapshot().Encode()
	if err == nil {
		err = r.pub.Publish(r.cfg.Topic, payload)
	}
	if err != nil {
		if n := r.failed.Add(1); n == 1 || n%60 == 0 {
			slog.Warn("telemetry: report failed", "error", err, "failed", n)
		}
		return err
	}
	r.reported.Add(1)
	return nil
}

// Snapshot collects the current state.
func (r *Reporter) Snapshot() Snapshot {
	s := Snapshot{
		InstanceID: r.cfg.InstanceID,
		Timestamp:  time.Now().UnixMilli(),
	}

	if c := r.src.Compositor; c != nil {
		st := c.Stats()
		s.SessionID = st.SessionID
		s.Compositor = CompositorSnapshot{
			State:             st.State,
			Running:           st.Running,
			Topology:          st.Topology,
			Throttled:         st.Throttled,
			VsyncCount:        st.SwapState.VsyncCount,
			EyeBufferCount:    st.SwapState.EyeBufferCount,
			FramesWarped:      st.FramesWarped,
			PlaceholderFrames: st.PlaceholderFrames,
			StaleFrames:       st.StaleFrames,
			SkippedSources:    st.SkippedSources,
			LateEyes:          st.LateEyes,
			PhaseTimeouts:     st.PhaseTimeouts,
			Submissions:       st.Submissions,
			FenceTimeouts:     st.FenceTimeouts,
			PacingTimeouts:    st.PacingTimeouts,
			WrongThreadCalls:  st.WrongThreadCalls,
		}
		for _, e := range c.EyeLog(r.cfg.EyeLogEntries) {
			s.EyeLog = append(s.EyeLog, EyeTiming{
				Vsync:          e.Vsync,
				Eye:            e.Eye,
				Sequence:       e.Sequence,
				Skipped:        e.Skipped,
				IssueFinish:    e.IssueFinish,
				CompleteFinish: e.CompleteFinish,
				PoseLatency:    e.PoseLatency,
			})
		}
	}

	if est := r.src.Vsync; est != nil {
		vs := est.Stats()
		fs := est.FeedStats()
		s.Vsync = VsyncSnapshot{
			RefreshHz:   vs.RefreshHz,
			Degraded:    vs.Degraded,
			Samples:     vs.Samples,
			Resyncs:     vs.Resyncs,
			JitterMeanS: fs.JitterMean,
			Stable:      fs.IsStable,
		}
	}

	if p := r.src.Predictor; p != nil {
		ps := p.Stats()
		s.Prediction = PredictionSnapshot{
			Attached:         ps.Attached,
			Predictions:      ps.Predictions,
			IdentityFallback: ps.IdentityFallback,
			LongPredictions:  ps.LongPredictions,
			YawCorrection:    ps.YawCorrection,
		}
	}

	if r.latches != nil {
		s.LastLatch = r.latchSnapshot()
	}

	return s
}

// Reported returns the number of successful reports.
func (r *Reporter) Reported() uint64 {
	return r.reported.Load()
}

// latchSnapshot folds the pending window in. Window counters describe only
// the latches since the previous report; nil before the first latch.
func (r *Reporter) latchSnapshot() *LatchSnapshot {
	r.windowMu.Lock()
	defer r.windowMu.Unlock()

	w, fresh := r.latches.TryReceive()
	if fresh {
		r.window = w
	} else {
		w = latchbus.Window{Latest: r.window.Latest}
	}
	if r.window.Latches == 0 {
		return nil
	}

	l := w.Latest
	return &LatchSnapshot{
		VsyncCount:     l.VsyncCount,
		EyeBufferCount: l.EyeBufferCount,
		Placeholder:    l.Placeholder,
		Skipped:        w.Skipped,
		DisplayTime:    l.DisplayTime,
		Latches:        w.Latches,
		NewFrames:      w.NewFrames,
		Placeholders:   w.Placeholders,
	}
}

func (r *Reporter) close() {
	if r.latches == nil {
		return
	}
	r.latches.Close()
	if err := r.src.Latches.Unsubscribe(latchSubscriberID); err != nil {
		slog.Debug("telemetry: unsubscribe", "error", err)
	}
}
