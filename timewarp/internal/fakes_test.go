package internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/hmd-timewarp/clock"
	"github.com/e7canasta/hmd-timewarp/pose"
	"github.com/e7canasta/hmd-timewarp/vsync"
)

// fakeFence is signaled explicitly by the test.
type fakeFence struct {
	signaled atomic.Bool
	released atomic.Bool
}

func (f *fakeFence) IsSignaled() bool { return f.signaled.Load() }

func (f *fakeFence) Wait(timeout time.Duration) bool {
	if f.signaled.Load() {
		return true
	}
	time.Sleep(timeout)
	return f.signaled.Load()
}

func (f *fakeFence) Release() { f.released.Store(true) }

// fakeGPU hands out fences that are either pre-signaled or never signal.
type fakeGPU struct {
	signal bool

	mu     sync.Mutex
	fences []*fakeFence
}

func (g *fakeGPU) CreateFence() (Fence, error) {
	f := &fakeFence{}
	f.signaled.Store(g.signal)

	g.mu.Lock()
	g.fences = append(g.fences, f)
	g.mu.Unlock()
	return f, nil
}

// recordingRenderer records every call.
type recordingRenderer struct {
	mu       sync.Mutex
	prepared map[ProgramID]bool
	draws    []EyeDraw
	presents []int64
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{prepared: make(map[ProgramID]bool)}
}

func (r *recordingRenderer) PrepareProgram(id ProgramID) error {
	r.mu.Lock()
	r.prepared[id] = true
	r.mu.Unlock()
	return nil
}

func (r *recordingRenderer) DrawEye(cmd EyeDraw) error {
	r.mu.Lock()
	r.draws = append(r.draws, cmd)
	r.mu.Unlock()
	return nil
}

func (r *recordingRenderer) Present(vsync int64) error {
	r.mu.Lock()
	r.presents = append(r.presents, vsync)
	r.mu.Unlock()
	return nil
}

func (r *recordingRenderer) lastDraws(n int) []EyeDraw {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.draws) {
		n = len(r.draws)
	}
	return append([]EyeDraw(nil), r.draws[len(r.draws)-n:]...)
}

type harness struct {
	c        *compositor
	clock    clock.Clock
	est      *vsync.Estimator
	pred     *pose.Predictor
	gpu      *fakeGPU
	renderer *recordingRenderer
}

// newHarness builds a compositor over fakes. With a Manual clock the
// estimator stays in degraded mode, so vsync v starts at 100 + v*period.
func newHarness(t *testing.T, clk clock.Clock, cfg Config) *harness {
	t.Helper()

	h := &harness{
		clock:    clk,
		est:      vsync.NewEstimator(clk, vsync.DefaultConfig()),
		pred:     pose.NewPredictor(pose.DefaultConfig()),
		gpu:      &fakeGPU{signal: true},
		renderer: newRecordingRenderer(),
	}
	c, err := NewCompositor(cfg, Deps{
		Clock:     clk,
		Vsync:     h.est,
		Predictor: h.pred,
		GPU:       h.gpu,
		Renderer:  h.renderer,
	})
	if err != nil {
		t.Fatalf("NewCompositor() failed: %v", err)
	}
	h.c = c
	return h
}

// at returns the manual-clock time of fractional vsync v.
func (h *harness) at(v float64) float64 {
	return 100 + v*vsync.DefaultPeriod.Seconds()
}

// moveTo sets the manual clock to fractional vsync v.
func (h *harness) moveTo(v float64) {
	h.clock.(*clock.Manual).Set(h.at(v))
}

func eyeParms(tex TextureID) WarpParms {
	var p WarpParms
	for eye := range p.Eyes {
		p.Eyes[eye].Layers[0] = EyeLayer{
			Image:       EyeImage{Texture: tex + TextureID(eye)},
			FieldOfView: 90,
		}
	}
	return p
}
