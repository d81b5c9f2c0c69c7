package display

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/luminet/stripd/internal/pixel"
)

// Terminal renders an approximate colored preview of the strip, one row
// of glyphs per frame. Failures of the output surface are reported as
// ErrDisconnected and are non-fatal: the render loop keeps producing
// frames that are simply dropped.
type Terminal struct {
	w          io.Writer
	pixelCount int
	gone       bool
}

// NewTerminal writes the preview to w. Pass color.Output for a real
// terminal.
func NewTerminal(w io.Writer, n int) *Terminal {
	return &Terminal{w: w, pixelCount: n}
}

func (t *Terminal) PixelCount() int { return t.pixelCount }

func (t *Terminal) SetPixelCount(n int) error {
	t.pixelCount = n
	return nil
}

func (t *Terminal) Render(f pixel.Frame) error {
	if t.gone {
		return ErrDisconnected
	}
	for i := 0; i+2 < len(f); i += 3 {
		c := color.RGB(int(f[i]), int(f[i+1]), int(f[i+2]))
		if _, err := c.Fprint(t.w, "O"); err != nil {
			t.gone = true
			return fmt.Errorf("%v: %w", err, ErrDisconnected)
		}
	}
	if _, err := fmt.Fprintln(t.w); err != nil {
		t.gone = true
		return fmt.Errorf("%v: %w", err, ErrDisconnected)
	}
	return nil
}

func (t *Terminal) Close() error { return nil }
