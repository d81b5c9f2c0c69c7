// Package program compiles and executes untrusted animation code inside
// a WASM sandbox. A program sees a fixed ABI: exported linear memory
// "memory", init(pixelCount) and render(frameIndex, timeMs) -> offset of
// pixelCount*3 RGB bytes in its own memory. Everything else — fuel,
// memory growth, host surface — is capped by the host.
package program

import (
	"errors"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/rs/zerolog"

	"github.com/luminet/stripd/internal/pixel"
)

const (
	// MaxMemoryPages caps the program's linear memory at 1 MiB.
	MaxMemoryPages = 16
	maxMemoryBytes = MaxMemoryPages * 65536

	// FuelPerMillisecond converts a frame period into an execution budget.
	FuelPerMillisecond = 1_000_000

	// initFuel bounds init(); it runs once per load, off the render path.
	initFuel = 50_000_000
)

// Engine owns the shared wasmtime engine. Compilation may run on the
// control path while an older program renders; stores are per-program so
// the two never touch the same state.
type Engine struct {
	engine *wasmtime.Engine
	log    zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	return &Engine{
		engine: wasmtime.NewEngineWithConfig(cfg),
		log:    log.With().Str("component", "sandbox").Logger(),
	}
}

// Program is a compiled, initialized animation unit. Immutable after
// compilation; replaced, never mutated, on hot-swap. Not safe for
// concurrent use — after hand-off it belongs to the render path alone.
type Program struct {
	store      *wasmtime.Store
	memory     *wasmtime.Memory
	initFn     *wasmtime.Func
	renderFn   *wasmtime.Func
	pixelCount int
}

// Compile validates the payload, instantiates it, and runs init. Any
// failure leaves the currently running program untouched.
func (e *Engine) Compile(wasm []byte, pixelCount int) (*Program, error) {
	module, err := wasmtime.NewModule(e.engine, wasm)
	if err != nil {
		return nil, &CompileError{Reason: "malformed module", Err: err}
	}
	if err := checkMemoryCeiling(module); err != nil {
		return nil, err
	}

	store := wasmtime.NewStore(e.engine)
	store.Limiter(maxMemoryBytes, -1, 1, 1, 1)
	if err := store.SetFuel(initFuel); err != nil {
		return nil, &CompileError{Reason: "fuel setup", Err: err}
	}

	linker := wasmtime.NewLinker(e.engine)
	if err := e.linkHost(store, linker); err != nil {
		return nil, &CompileError{Reason: "host linkage", Err: err}
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, &CompileError{Reason: "instantiation failed", Err: err}
	}

	p := &Program{store: store}
	if ext := instance.GetExport(store, "memory"); ext != nil {
		p.memory = ext.Memory()
	}
	if p.memory == nil {
		return nil, &CompileError{Reason: `missing exported "memory"`}
	}
	p.initFn = instance.GetFunc(store, "init")
	if p.initFn == nil {
		return nil, &CompileError{Reason: `missing exported "init"`}
	}
	p.renderFn = instance.GetFunc(store, "render")
	if p.renderFn == nil {
		return nil, &CompileError{Reason: `missing exported "render"`}
	}

	if err := p.Init(pixelCount); err != nil {
		return nil, &CompileError{Reason: "init failed", Err: err}
	}
	return p, nil
}

// Init (re)binds the program to a pixel count. Called during Compile and
// again by the scheduler when pixel_count changes at a frame boundary.
func (p *Program) Init(pixelCount int) error {
	if pixelCount < 1 {
		return fmt.Errorf("pixel count %d must be >= 1", pixelCount)
	}
	if err := p.store.SetFuel(initFuel); err != nil {
		return err
	}
	if _, err := p.initFn.Call(p.store, int32(pixelCount)); err != nil {
		return err
	}
	p.pixelCount = pixelCount
	return nil
}

// PixelCount returns the count the program was last initialized with.
func (p *Program) PixelCount() int { return p.pixelCount }

// Render executes one frame under the given fuel budget and copies the
// resulting pixels out of the program's memory. All failure modes come
// back as *RenderError; the program stays loaded and callable.
func (p *Program) Render(frameIndex uint64, timeMs float64, fuel uint64) (pixel.Frame, error) {
	if err := p.store.SetFuel(fuel); err != nil {
		return nil, &RenderError{Kind: Trap, Err: err}
	}
	ret, err := p.renderFn.Call(p.store, int32(frameIndex), timeMs)
	if err != nil {
		return nil, classifyFault(err)
	}
	off, ok := ret.(int32)
	if !ok {
		return nil, &RenderError{Kind: InvalidOutput, Err: fmt.Errorf("render returned %T, want i32 offset", ret)}
	}

	want := p.pixelCount * 3
	data := p.memory.UnsafeData(p.store)
	if off < 0 || int(off)+want > len(data) {
		return nil, &RenderError{
			Kind: InvalidOutput,
			Err:  fmt.Errorf("pixel region [%d,%d) outside memory of %d bytes", off, int(off)+want, len(data)),
		}
	}
	// Copy out before the program can touch its memory again.
	f := make(pixel.Frame, want)
	copy(f, data[off:int(off)+want])
	return f, nil
}

func classifyFault(err error) *RenderError {
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil && *code == wasmtime.OutOfFuel {
			return &RenderError{Kind: ResourceLimitExceeded, Err: err}
		}
		return &RenderError{Kind: Trap, Err: err}
	}
	return &RenderError{Kind: Trap, Err: err}
}

// checkMemoryCeiling rejects modules that request more linear memory than
// the sandbox allows. Growth past the ceiling is additionally blocked at
// run time by the store limiter.
func checkMemoryCeiling(module *wasmtime.Module) error {
	for _, exp := range module.Exports() {
		mt := exp.Type().MemoryType()
		if mt == nil {
			continue
		}
		if min := mt.Minimum(); min > MaxMemoryPages {
			return &CompileError{
				Reason: fmt.Sprintf("memory request of %d pages exceeds ceiling of %d", min, MaxMemoryPages),
			}
		}
	}
	return nil
}

// linkHost defines the deliberately tiny host surface: an abort sink so
// aborting programs fault cleanly, and the color-conversion helper the
// animation ABI exposes.
func (e *Engine) linkHost(store *wasmtime.Store, linker *wasmtime.Linker) error {
	log := e.log
	err := linker.DefineFunc(store, "env", "abort",
		func(msgRef, fileRef, line, column int32) {
			log.Warn().
				Int32("msg_ref", msgRef).
				Int32("file_ref", fileRef).
				Int32("line", line).
				Int32("column", column).
				Msg("program aborted")
		})
	if err != nil {
		return err
	}
	return linker.DefineFunc(store, "colorConvert", "hsvToRgbEncoded",
		func(h, s, v int32) int32 {
			return int32(HSVToRGBEncoded(h, s, v))
		})
}
