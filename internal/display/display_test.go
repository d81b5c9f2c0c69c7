package display

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"

	"github.com/luminet/stripd/internal/pixel"
)

func TestHardwareWritesEncodedFrame(t *testing.T) {
	buf := bytes.Buffer{}
	h, err := newHardware(spitest.NewRecordRaw(&buf), 2500000, 4, zerolog.Nop())
	require.NoError(t, err)

	f := pixel.Solid(4, 255, 0, 0)
	require.NoError(t, h.Render(f))
	// NRZ expansion: every pixel becomes more than its 3 raw bytes.
	assert.Greater(t, buf.Len(), len(f))
}

func TestHardwareRejectsWrongLength(t *testing.T) {
	buf := bytes.Buffer{}
	h, err := newHardware(spitest.NewRecordRaw(&buf), 2500000, 4, zerolog.Nop())
	require.NoError(t, err)

	err = h.Render(pixel.Make(3))
	require.ErrorIs(t, err, ErrHardwareFault)
}

// brokenStrip fails every write.
type brokenStrip struct{ halted bool }

func (b *brokenStrip) Write(p []byte) (int, error) { return 0, errors.New("dma underrun") }
func (b *brokenStrip) Halt() error                 { b.halted = true; return nil }

func TestHardwareDegradesAfterRetryBudget(t *testing.T) {
	bs := &brokenStrip{}
	h := &Hardware{dev: bs, pixelCount: 2, log: zerolog.Nop()}
	f := pixel.Make(2)

	for i := 0; i < retryBudget; i++ {
		err := h.Render(f)
		require.ErrorIs(t, err, ErrHardwareFault)
		assert.False(t, h.Degraded(), "degraded too early on attempt %d", i+1)
	}
	require.ErrorIs(t, h.Render(f), ErrHardwareFault)
	assert.True(t, h.Degraded())
	assert.True(t, bs.halted, "strip must be blanked when degrading")

	// once degraded, no further hardware writes happen
	bs.halted = false
	require.ErrorIs(t, h.Render(f), ErrHardwareFault)
	assert.False(t, bs.halted)
}

func TestHardwareRecoversWithinBudget(t *testing.T) {
	bs := &brokenStrip{}
	h := &Hardware{dev: bs, pixelCount: 2, log: zerolog.Nop()}
	require.Error(t, h.Render(pixel.Make(2)))

	buf := bytes.Buffer{}
	h.port = spitest.NewRecordRaw(&buf)
	d, err := h.newDev(h.pixelCount)
	require.NoError(t, err)
	h.dev = d
	require.NoError(t, h.Render(pixel.Make(2)))
	assert.Equal(t, 0, h.failures)
}

// failingPort delegates to a working port until told to fail connects.
type failingPort struct {
	spi.Port
	fail bool
}

func (p *failingPort) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	if p.fail {
		return nil, errors.New("port busy")
	}
	return p.Port.Connect(f, m, bits)
}

func TestHardwareResizeFailureCommitsNothing(t *testing.T) {
	buf := bytes.Buffer{}
	fp := &failingPort{Port: spitest.NewRecordRaw(&buf)}
	h, err := newHardware(fp, 2500000, 4, zerolog.Nop())
	require.NoError(t, err)

	fp.fail = true
	require.Error(t, h.SetPixelCount(8))

	// old device and old count stay paired: old-size frames still render
	// and the backend stays healthy
	assert.Equal(t, 4, h.PixelCount())
	require.NoError(t, h.Render(pixel.Make(4)))
	assert.False(t, h.Degraded())

	fp.fail = false
	require.NoError(t, h.SetPixelCount(8))
	assert.Equal(t, 8, h.PixelCount())
	require.NoError(t, h.Render(pixel.Make(8)))
}

func TestTerminalRendersRow(t *testing.T) {
	buf := bytes.Buffer{}
	term := NewTerminal(&buf, 3)
	require.NoError(t, term.Render(pixel.Solid(3, 0, 255, 0)))
	out := buf.String()
	assert.Contains(t, out, "O")
	assert.Contains(t, out, "\n")
}

// brokenWriter fails after the surface goes away.
type brokenWriter struct{}

func (brokenWriter) Write(p []byte) (int, error) { return 0, errors.New("gone") }

func TestTerminalDisconnectIsSticky(t *testing.T) {
	term := NewTerminal(brokenWriter{}, 2)
	require.ErrorIs(t, term.Render(pixel.Make(2)), ErrDisconnected)
	// subsequent frames are dropped with the same error, no panic
	require.ErrorIs(t, term.Render(pixel.Make(2)), ErrDisconnected)
}
