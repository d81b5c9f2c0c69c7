// Package display abstracts the LED output sink. Two real backends:
// the WS2812 strip over SPI and a terminal preview for development.
package display

import (
	"errors"

	"github.com/luminet/stripd/internal/pixel"
)

var (
	// ErrHardwareFault is a strip-level write failure. Past the retry
	// budget the backend goes degraded: blank output, fault surfaced.
	ErrHardwareFault = errors.New("display: hardware fault")
	// ErrDisconnected means the preview surface went away. Non-fatal;
	// frames are simply dropped.
	ErrDisconnected = errors.New("display: output disconnected")
)

// Display is the output capability set. Render must complete within a
// bounded time; it is called from the real-time loop.
type Display interface {
	// Render pushes one frame. len(f) must be 3*PixelCount().
	Render(f pixel.Frame) error
	PixelCount() int
	// SetPixelCount resizes the output at a frame boundary.
	SetPixelCount(n int) error
	// Close releases resources, leaving the output dark.
	Close() error
}
