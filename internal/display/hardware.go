package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/luminet/stripd/internal/pixel"
)

// retryBudget is how many consecutive failed writes we tolerate before
// entering the degraded safe state. Retrying forever would starve the
// scheduler.
const retryBudget = 3

// writeBudget flags a single strip write that ran long. Detection only:
// the SPI write blocks and is measured after the fact; what enforces the
// degraded-path guarantee is the retry budget below. A WS2812 frame is
// ~30µs per pixel plus latch, so even long strips finish well inside this.
const writeBudget = 50 * time.Millisecond

var hostOnce sync.Once

// strip is the device surface Hardware drives. *nrzled.Dev satisfies it.
type strip interface {
	io.Writer
	Halt() error
}

// Hardware drives a WS2812 strip through an SPI port using the NRZ
// encoder. Writes past the retry budget flip it into a degraded state:
// the strip is blanked and every Render surfaces ErrHardwareFault.
type Hardware struct {
	port       spi.Port
	closer     io.Closer
	dev        strip
	pixelCount int
	speedHz    physic.Frequency
	failures   int
	degraded   bool
	log        zerolog.Logger
}

// NewHardware initializes the periph host, opens the SPI port and
// prepares the NRZ device for n pixels.
func NewHardware(dev string, speedHz, n int, log zerolog.Logger) (*Hardware, error) {
	var initErr error
	hostOnce.Do(func() { _, initErr = host.Init() })
	if initErr != nil {
		return nil, fmt.Errorf("periph host: %w", initErr)
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", dev, err)
	}
	h, err := newHardware(port, speedHz, n, log)
	if err != nil {
		port.Close()
		return nil, err
	}
	h.closer = port
	return h, nil
}

func newHardware(port spi.Port, speedHz, n int, log zerolog.Logger) (*Hardware, error) {
	h := &Hardware{
		port:       port,
		pixelCount: n,
		speedHz:    physic.Frequency(speedHz) * physic.Hertz,
		log:        log.With().Str("component", "hardware").Logger(),
	}
	d, err := h.newDev(n)
	if err != nil {
		return nil, err
	}
	h.dev = d
	return h, nil
}

func (h *Hardware) newDev(n int) (strip, error) {
	d, err := nrzled.NewSPI(h.port, &nrzled.Opts{
		NumPixels: n,
		Channels:  3,
		Freq:      h.speedHz,
	})
	if err != nil {
		return nil, fmt.Errorf("nrzled: %w", err)
	}
	return d, nil
}

func (h *Hardware) PixelCount() int { return h.pixelCount }

// SetPixelCount rebuilds the NRZ device over the same port. Nothing is
// committed on failure: the old device and count stay paired, so frames
// at the old size keep rendering.
func (h *Hardware) SetPixelCount(n int) error {
	if n == h.pixelCount {
		return nil
	}
	d, err := h.newDev(n)
	if err != nil {
		return err
	}
	h.dev = d
	h.pixelCount = n
	return nil
}

func (h *Hardware) Render(f pixel.Frame) error {
	if h.degraded {
		return ErrHardwareFault
	}
	if len(f) != h.pixelCount*3 {
		return fmt.Errorf("frame length %d does not match %d pixels: %w",
			len(f), h.pixelCount, ErrHardwareFault)
	}

	start := time.Now()
	_, err := h.dev.Write(f)
	if elapsed := time.Since(start); elapsed > writeBudget {
		h.log.Warn().Dur("elapsed", elapsed).Msg("strip write exceeded budget")
	}
	if err == nil {
		h.failures = 0
		return nil
	}

	h.failures++
	if h.failures <= retryBudget {
		return fmt.Errorf("strip write (attempt %d): %v: %w", h.failures, err, ErrHardwareFault)
	}

	// Past the budget: blank the strip once and stop touching hardware.
	h.degraded = true
	if herr := h.dev.Halt(); herr != nil {
		h.log.Error().Err(herr).Msg("could not blank strip while degrading")
	}
	h.log.Error().Err(err).Int("failures", h.failures).Msg("strip degraded; output blanked")
	return fmt.Errorf("strip degraded after %d failures: %w", h.failures, ErrHardwareFault)
}

// Degraded reports whether the backend gave up on the hardware.
func (h *Hardware) Degraded() bool { return h.degraded }

func (h *Hardware) Close() error {
	err := h.dev.Halt()
	if h.closer != nil {
		if cerr := h.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
