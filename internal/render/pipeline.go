// Package render holds the color pipeline and the real-time frame
// scheduler.
package render

import (
	"math"

	"github.com/luminet/stripd/internal/pixel"
)

// Pipeline transforms raw program output into display-ready values:
// brightness scaling and gamma correction through a single precomputed
// 256-entry table, plus optional temporal error-diffusion dithering so
// fractional brightness loss accumulates into an occasional ±1 step
// instead of being truncated away every frame.
//
// The pipeline never errors: out-of-range input is clamped.
type Pipeline struct {
	brightness float64
	gamma      float64
	dither     bool
	built      bool

	// lut maps a raw byte to its display-domain target value, which is
	// fractional on purpose — the dither stage consumes the fraction.
	lut   [256]float64
	carry []float64 // per channel per pixel diffusion state
}

func NewPipeline(brightness, gamma float64, dither bool, pixelCount int) *Pipeline {
	p := &Pipeline{}
	p.Configure(brightness, gamma, dither, pixelCount)
	return p
}

// Configure applies new parameters. The table is rebuilt only when
// brightness or gamma actually changed; diffusion state is reset when
// the pixel count changes.
func (p *Pipeline) Configure(brightness, gamma float64, dither bool, pixelCount int) {
	if !p.built || brightness != p.brightness || gamma != p.gamma {
		p.brightness = brightness
		p.gamma = gamma
		p.rebuild()
	}
	p.dither = dither
	if len(p.carry) != pixelCount*3 {
		p.carry = make([]float64, pixelCount*3)
	}
}

func (p *Pipeline) rebuild() {
	for v := 0; v < 256; v++ {
		scaled := float64(v) / 255.0 * p.brightness
		p.lut[v] = math.Pow(scaled, p.gamma) * 255.0
	}
	p.built = true
}

// Apply transforms the frame in place. Output is always within [0,255]
// per channel (bytes make that structural; the clamp guards the dither
// arithmetic).
func (p *Pipeline) Apply(f pixel.Frame) {
	for i := range f {
		t := p.lut[f[i]]
		if p.dither && i < len(p.carry) {
			t += p.carry[i]
			out := clampByte(math.Floor(t + 0.5))
			p.carry[i] = clampUnit(t - out)
			f[i] = byte(out)
		} else {
			f[i] = byte(clampByte(math.Floor(t + 0.5)))
		}
	}
}

// ResetDither clears the diffusion state, e.g. after a program swap.
func (p *Pipeline) ResetDither() {
	for i := range p.carry {
		p.carry[i] = 0
	}
}

func clampByte(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return x
}

// clampUnit keeps carried error within one quantization step so a burst
// of clamped input cannot bank unbounded debt.
func clampUnit(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}
