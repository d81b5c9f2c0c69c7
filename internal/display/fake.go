package display

import (
	"sync"

	"github.com/luminet/stripd/internal/pixel"
)

// Fake records every frame it receives. Useful for headless tests of the
// render loop.
type Fake struct {
	mu         sync.Mutex
	pixelCount int
	frames     []pixel.Frame
	fail       error
}

func NewFake(n int) *Fake {
	return &Fake{pixelCount: n}
}

func (d *Fake) PixelCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pixelCount
}

func (d *Fake) SetPixelCount(n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pixelCount = n
	return nil
}

// Fail makes every subsequent Render return err.
func (d *Fake) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

func (d *Fake) Render(f pixel.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.frames = append(d.frames, f.Clone())
	return nil
}

// Frames returns a snapshot of everything rendered so far.
func (d *Fake) Frames() []pixel.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pixel.Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Last returns the most recent frame, or nil.
func (d *Fake) Last() pixel.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return nil
	}
	return d.frames[len(d.frames)-1]
}

func (d *Fake) Close() error { return nil }
