package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/e7canasta/hmd-timewarp/timewarp"
)

var (
	// ErrProgramNotPrepared is returned by DrawEye for a program that was
	// not prepared at Start.
	ErrProgramNotPrepared = errors.New("sim: warp program not prepared")

	// ErrUnsampleableImage is returned by DrawEye for a layer whose texture
	// descriptor a warp program cannot sample.
	ErrUnsampleableImage = errors.New("sim: eye image not sampleable")

	// ErrLayerMismatch is returned by DrawEye when an overlay layer's
	// format differs in color space from the scene layer.
	ErrLayerMismatch = errors.New("sim: overlay and scene color spaces differ")
)

// Renderer records warp draws instead of issuing GPU commands.
type Renderer struct {
	// DrawCost simulates GPU submission time per eye.
	DrawCost time.Duration

	mu       sync.Mutex
	prepared map[timewarp.ProgramID]bool
	stats    RendererStats
	last     [2]timewarp.EyeDraw
}

// RendererStats counts recorded work.
type RendererStats struct {
	Prepared     int
	Draws        uint64
	Rejected     uint64 // draws refused for bad image descriptors
	Placeholders uint64
	Chromatic    uint64
	Presents     uint64
	LastVsync    int64
}

// NewRenderer creates a recording renderer.
func NewRenderer() *Renderer {
	return &Renderer{prepared: make(map[timewarp.ProgramID]bool)}
}

// PrepareProgram implements timewarp.Renderer.
func (r *Renderer) PrepareProgram(id timewarp.ProgramID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prepared[id] = true
	r.stats.Prepared = len(r.prepared)
	return nil
}

// DrawEye implements timewarp.Renderer.
func (r *Renderer) DrawEye(cmd timewarp.EyeDraw) error {
	if r.DrawCost > 0 {
		time.Sleep(r.DrawCost)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.prepared[cmd.Program] {
		return fmt.Errorf("%w: %s chromatic=%v", ErrProgramNotPrepared, cmd.Program.Effect, cmd.Program.Chromatic)
	}
	if err := checkLayers(cmd.Images); err != nil {
		r.stats.Rejected++
		return fmt.Errorf("eye %d vsync %d: %w", cmd.Eye, cmd.VsyncBase, err)
	}
	r.stats.Draws++
	if cmd.Placeholder {
		r.stats.Placeholders++
	}
	if cmd.Program.Chromatic {
		r.stats.Chromatic++
	}
	if cmd.Eye == 0 || cmd.Eye == 1 {
		r.last[cmd.Eye] = cmd
	}
	return nil
}

// checkLayers validates the textures of one draw: every bound texture must
// be sampleable, and overlays must share the scene's color space (both sRGB
// or both linear) so a single blend stage composes them.
func checkLayers(images [timewarp.MaxLayers]timewarp.EyeImage) error {
	scene := images[0]
	for layer, img := range images {
		if img.Texture == 0 {
			continue
		}
		if !img.Sampleable() {
			return fmt.Errorf("%w: layer %d texture %d format %s size %dx%d",
				ErrUnsampleableImage, layer, img.Texture, img.Format, img.Size.Width, img.Size.Height)
		}
		if layer > 0 && scene.Texture != 0 && img.Format.IsSrgb() != scene.Format.IsSrgb() {
			return fmt.Errorf("%w: layer %d %s, scene %s", ErrLayerMismatch, layer, img.Format, scene.Format)
		}
	}
	return nil
}

// Present implements timewarp.Renderer.
func (r *Renderer) Present(vsync int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Presents++
	r.stats.LastVsync = vsync
	return nil
}

// Stats returns a snapshot of recorded work.
func (r *Renderer) Stats() RendererStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastDraw returns the most recent draw of eye.
func (r *Renderer) LastDraw(eye int) timewarp.EyeDraw {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[eye&1]
}
