// Package pixel holds the frame buffer representation shared by the
// render stages. A frame is a flat RGB byte raster; len(f) must be 3*N.
package pixel

// Frame is one complete set of RGB triples for the whole strip.
type Frame []byte

// Make allocates an all-off frame for n pixels.
func Make(n int) Frame {
	return make(Frame, n*3)
}

// Solid allocates a frame with every pixel set to (r, g, b).
func Solid(n int, r, g, b byte) Frame {
	f := Make(n)
	f.Fill(r, g, b)
	return f
}

// Pixels returns the number of RGB triples in the frame.
func (f Frame) Pixels() int { return len(f) / 3 }

// Fill sets every pixel to (r, g, b).
func (f Frame) Fill(r, g, b byte) {
	for i := 0; i+2 < len(f); i += 3 {
		f[i], f[i+1], f[i+2] = r, g, b
	}
}

// Clone returns an independent copy of the frame.
func (f Frame) Clone() Frame {
	c := make(Frame, len(f))
	copy(c, f)
	return c
}
