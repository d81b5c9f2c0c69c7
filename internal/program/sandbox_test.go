package program

import (
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidRedWat fills pixelCount RGB triples with (255,0,0) at offset 0.
const solidRedWat = `
(module
  (memory (export "memory") 1)
  (global $n (mut i32) (i32.const 0))
  (func (export "init") (param i32)
    (global.set $n (local.get 0)))
  (func (export "render") (param i32 f64) (result i32)
    (local $i i32)
    (block $done
      (loop $fill
        (br_if $done (i32.ge_u (local.get $i) (global.get $n)))
        (i32.store8 (i32.mul (local.get $i) (i32.const 3)) (i32.const 255))
        (i32.store8 (i32.add (i32.mul (local.get $i) (i32.const 3)) (i32.const 1)) (i32.const 0))
        (i32.store8 (i32.add (i32.mul (local.get $i) (i32.const 3)) (i32.const 2)) (i32.const 0))
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br $fill)))
    (i32.const 0)))
`

const trapWat = `
(module
  (memory (export "memory") 1)
  (func (export "init") (param i32))
  (func (export "render") (param i32 f64) (result i32)
    unreachable))
`

const spinWat = `
(module
  (memory (export "memory") 1)
  (func (export "init") (param i32))
  (func (export "render") (param i32 f64) (result i32)
    (loop $spin (br $spin))
    (i32.const 0)))
`

const badOffsetWat = `
(module
  (memory (export "memory") 1)
  (func (export "init") (param i32))
  (func (export "render") (param i32 f64) (result i32)
    (i32.const 65530)))
`

const hsvWat = `
(module
  (import "colorConvert" "hsvToRgbEncoded" (func $hsv (param i32 i32 i32) (result i32)))
  (memory (export "memory") 1)
  (func (export "init") (param i32))
  (func (export "render") (param i32 f64) (result i32)
    (local $c i32)
    (local.set $c (call $hsv (i32.const 120) (i32.const 100) (i32.const 100)))
    (i32.store8 (i32.const 0) (i32.shr_u (local.get $c) (i32.const 16)))
    (i32.store8 (i32.const 1) (i32.shr_u (local.get $c) (i32.const 8)))
    (i32.store8 (i32.const 2) (local.get $c))
    (i32.const 0)))
`

func compileWat(t *testing.T, wat string, pixelCount int) (*Engine, *Program) {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	e := NewEngine(zerolog.Nop())
	p, err := e.Compile(wasm, pixelCount)
	require.NoError(t, err)
	return e, p
}

func TestRenderSolidRed(t *testing.T) {
	_, p := compileWat(t, solidRedWat, 10)
	f, err := p.Render(0, 0, FuelPerMillisecond)
	require.NoError(t, err)
	require.Equal(t, 10, f.Pixels())
	for i := 0; i < 10; i++ {
		assert.Equal(t, byte(255), f[i*3+0])
		assert.Equal(t, byte(0), f[i*3+1])
		assert.Equal(t, byte(0), f[i*3+2])
	}
}

func TestReinitChangesPixelCount(t *testing.T) {
	_, p := compileWat(t, solidRedWat, 10)
	require.NoError(t, p.Init(5))
	f, err := p.Render(1, 33.3, FuelPerMillisecond)
	require.NoError(t, err)
	assert.Equal(t, 5, f.Pixels())
}

func TestTrapIsContained(t *testing.T) {
	_, p := compileWat(t, trapWat, 4)
	_, err := p.Render(0, 0, FuelPerMillisecond)
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, Trap, rerr.Kind)

	// the program is still loaded and still faults the same way — the
	// slot, not the sandbox, decides when to give up on it
	_, err = p.Render(1, 0, FuelPerMillisecond)
	require.ErrorAs(t, err, &rerr)
}

func TestFuelExhaustion(t *testing.T) {
	_, p := compileWat(t, spinWat, 4)
	_, err := p.Render(0, 0, 100_000)
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ResourceLimitExceeded, rerr.Kind)
}

func TestOutOfBoundsOutputRejected(t *testing.T) {
	_, p := compileWat(t, badOffsetWat, 10)
	_, err := p.Render(0, 0, FuelPerMillisecond)
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, InvalidOutput, rerr.Kind)
}

func TestCompileRejectsOversizedMemory(t *testing.T) {
	wasm, err := wasmtime.Wat2Wasm(`(module (memory (export "memory") 32)
		(func (export "init") (param i32))
		(func (export "render") (param i32 f64) (result i32) (i32.const 0)))`)
	require.NoError(t, err)
	e := NewEngine(zerolog.Nop())
	_, err = e.Compile(wasm, 10)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestCompileRejectsMissingExports(t *testing.T) {
	cases := []struct {
		name string
		wat  string
	}{
		{"no render", `(module (memory (export "memory") 1) (func (export "init") (param i32)))`},
		{"no init", `(module (memory (export "memory") 1) (func (export "render") (param i32 f64) (result i32) (i32.const 0)))`},
		{"no memory", `(module (func (export "init") (param i32)) (func (export "render") (param i32 f64) (result i32) (i32.const 0)))`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wasm, err := wasmtime.Wat2Wasm(tc.wat)
			require.NoError(t, err)
			e := NewEngine(zerolog.Nop())
			_, err = e.Compile(wasm, 10)
			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
		})
	}
}

func TestCompileRejectsGarbage(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	_, err := e.Compile([]byte("not wasm at all"), 10)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestHostColorConvert(t *testing.T) {
	_, p := compileWat(t, hsvWat, 1)
	f, err := p.Render(0, 0, FuelPerMillisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 0}, []byte(f))
}

func TestHSVToRGBEncoded(t *testing.T) {
	cases := []struct {
		h, s, v int32
		want    uint32
	}{
		{0, 100, 100, 0xFF0000},
		{120, 100, 100, 0x00FF00},
		{240, 100, 100, 0x0000FF},
		{0, 0, 100, 0xFFFFFF},
		{0, 0, 0, 0x000000},
		{360, 100, 100, 0xFF0000}, // wraps
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HSVToRGBEncoded(tc.h, tc.s, tc.v),
			"hsv(%d,%d,%d)", tc.h, tc.s, tc.v)
	}
}
