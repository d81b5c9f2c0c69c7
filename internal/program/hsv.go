package program

import "math"

// HSVToRGBEncoded converts h in degrees, s and v in percent to a packed
// 0x00RRGGBB value. Exposed to programs as colorConvert.hsvToRgbEncoded.
func HSVToRGBEncoded(h, s, v int32) uint32 {
	hf := math.Mod(float64(h), 360)
	if hf < 0 {
		hf += 360
	}
	sf := clamp01(float64(s) / 100)
	vf := clamp01(float64(v) / 100)

	r, g, b := hsvToRGB(hf/360, sf, vf)
	rr := uint32(math.Round(r * 255))
	gg := uint32(math.Round(g * 255))
	bb := uint32(math.Round(b * 255))
	return rr<<16 | gg<<8 | bb
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	i := int(h * 6.0)
	f := h*6.0 - float64(i)
	p := v * (1.0 - s)
	q := v * (1.0 - f*s)
	t := v * (1.0 - (1.0-f)*s)
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
