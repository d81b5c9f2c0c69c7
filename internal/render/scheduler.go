package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminet/stripd/internal/config"
	"github.com/luminet/stripd/internal/display"
	"github.com/luminet/stripd/internal/pixel"
	"github.com/luminet/stripd/internal/program"
	"github.com/luminet/stripd/internal/swap"
)

// State is the scheduler lifecycle.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Stats is an observability snapshot of the render loop.
type Stats struct {
	Frames     uint64
	Overruns   uint64
	Faults     uint64
	Generation uint64
}

// Scheduler owns the real-time loop: it ticks against an absolute
// deadline clock, pulls pending program/config hand-offs at frame
// boundaries, renders through the sandbox and pipeline, and writes to
// the display. All per-frame faults are recovered locally; Run only
// returns on shutdown.
type Scheduler struct {
	disp     display.Display
	slot     *program.Slot
	pipe     *Pipeline
	cfg      config.Config
	cfgCell  *swap.Cell[config.Update]
	progCell *swap.Cell[program.Load]

	paused atomic.Bool
	state  atomic.Int32

	mu       sync.Mutex
	stats    Stats
	lastGood pixel.Frame // pre-pipeline copy of the last successful render
	dispErr  string      // last display error, to avoid log spam

	start time.Time
	log   zerolog.Logger
}

func NewScheduler(
	cfg config.Config,
	disp display.Display,
	slot *program.Slot,
	cfgCell *swap.Cell[config.Update],
	progCell *swap.Cell[program.Load],
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		disp:     disp,
		slot:     slot,
		pipe:     NewPipeline(cfg.Brightness, cfg.Gamma, cfg.Dither, cfg.PixelCount),
		cfg:      cfg,
		cfgCell:  cfgCell,
		progCell: progCell,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// SetPaused suspends animation output. Ticks keep running so hand-offs
// still apply; the strip holds blank while paused.
func (s *Scheduler) SetPaused(b bool) { s.paused.Store(b) }

// Paused reports whether animation output is suspended.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Stats reads only scheduler-owned state under s.mu; the Slot belongs to
// the render goroutine and must not be touched from here.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run drives the loop until ctx is cancelled, then drains: the in-flight
// frame finishes, one final all-off frame goes out, and the scheduler
// stops. Each tick's target time is base + frameIndex*period; on overrun
// the next tick runs immediately (no skipped ticks — the frame counter
// stays authoritative) and the base is reanchored so one slow frame does
// not leave every later deadline in the past.
func (s *Scheduler) Run(ctx context.Context) error {
	s.state.Store(int32(Running))
	s.start = time.Now()
	base := s.start
	var frame uint64

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		period := s.cfg.Period()
		deadline := base.Add(time.Duration(frame) * period)
		now := time.Now()
		if wait := deadline.Sub(now); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return s.drain()
			case <-timer.C:
			}
		} else if wait < 0 && frame > 0 {
			s.mu.Lock()
			s.stats.Overruns++
			s.mu.Unlock()
			base = now.Add(-time.Duration(frame) * period)
		}

		select {
		case <-ctx.Done():
			return s.drain()
		default:
		}

		s.tick(frame, float64(time.Since(s.start).Microseconds())/1000.0)
		frame++
	}
}

func (s *Scheduler) drain() error {
	s.state.Store(int32(Draining))
	blank := pixel.Make(s.cfg.PixelCount)
	if err := s.disp.Render(blank); err != nil {
		s.log.Warn().Err(err).Msg("final blank frame failed")
	}
	s.state.Store(int32(Stopped))
	s.log.Info().Msg("render loop stopped")
	return nil
}

// tick runs one frame: consume hand-offs, render, post-process, write.
func (s *Scheduler) tick(frame uint64, timeMs float64) {
	s.consumeConfig()
	s.consumeProgram()

	f := s.produce(frame, timeMs)
	s.pipe.Apply(f)
	s.write(f)

	s.mu.Lock()
	s.stats.Frames++
	s.mu.Unlock()
}

// consumeConfig applies a pending config update atomically: either every
// field lands or none does.
func (s *Scheduler) consumeConfig() {
	u := s.cfgCell.Take()
	if u == nil {
		return
	}
	next, err := s.cfg.Merge(*u)
	if err != nil {
		s.log.Warn().Err(err).Msg("rejecting config update")
		return
	}
	if next.PixelCount != s.cfg.PixelCount {
		if err := s.disp.SetPixelCount(next.PixelCount); err != nil {
			s.log.Warn().Err(err).Int("pixels", next.PixelCount).Msg("display resize failed")
		}
		if prog, gen := s.slot.Active(); prog != nil {
			if err := prog.Init(next.PixelCount); err != nil {
				s.log.Warn().Err(err).Msg("program re-init failed; unloading")
				s.slot.Unload(gen)
			}
		}
		s.mu.Lock()
		s.lastGood = nil
		s.mu.Unlock()
		s.pipe.ResetDither()
	}
	s.pipe.Configure(next.Brightness, next.Gamma, next.Dither, next.PixelCount)
	s.cfg = next
	s.log.Info().
		Int("pixels", next.PixelCount).
		Int("fps", next.FrameRateHz).
		Float64("brightness", next.Brightness).
		Msg("config applied")
}

// consumeProgram swaps in a pending program. The swap is atomic at this
// frame boundary; no frame ever sees a partially-swapped program.
func (s *Scheduler) consumeProgram() {
	l := s.progCell.Take()
	if l == nil {
		return
	}
	if l.Prog != nil && l.Prog.PixelCount() != s.cfg.PixelCount {
		if err := l.Prog.Init(s.cfg.PixelCount); err != nil {
			s.log.Warn().Err(err).Uint64("generation", l.Generation).
				Msg("program init at swap failed; keeping current program")
			return
		}
	}
	s.slot.Adopt(l.Prog, l.Generation)
	s.mu.Lock()
	s.lastGood = nil
	s.stats.Generation = l.Generation
	s.mu.Unlock()
	s.pipe.ResetDither()
	s.log.Info().Uint64("generation", l.Generation).Msg("program swapped in")
}

// produce renders the raw frame for this tick. Faults never propagate:
// the previous good frame (or blank) substitutes, and past the
// consecutive-fault threshold the program is unloaded in favor of the
// static fallback color.
func (s *Scheduler) produce(frame uint64, timeMs float64) pixel.Frame {
	n := s.cfg.PixelCount
	if s.paused.Load() {
		return pixel.Make(n)
	}

	prog, gen := s.slot.Active()
	if prog == nil {
		if s.slot.FaultRetired() {
			c := s.cfg.FallbackColor
			return pixel.Solid(n, c[0], c[1], c[2])
		}
		return pixel.Make(n)
	}

	fuel := uint64(s.cfg.Period().Milliseconds()+1) * program.FuelPerMillisecond
	out, err := prog.Render(frame, timeMs, fuel)
	if err != nil {
		s.mu.Lock()
		s.stats.Faults++
		last := s.lastGood
		s.mu.Unlock()
		s.log.Debug().Err(err).Uint64("frame", frame).Msg("frame fault")
		if s.slot.Faulted(gen) {
			s.log.Warn().Uint64("generation", gen).
				Msg("program unloaded after consecutive faults; showing fallback")
		}
		if last != nil {
			return last.Clone()
		}
		return pixel.Make(n)
	}

	s.slot.Succeeded(gen)
	s.mu.Lock()
	s.lastGood = out.Clone()
	s.mu.Unlock()
	return out
}

// write pushes the frame out, logging display faults without ever
// failing the tick. Repeats of the same error are demoted to debug.
func (s *Scheduler) write(f pixel.Frame) {
	err := s.disp.Render(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.dispErr = ""
		return
	}
	if err.Error() != s.dispErr {
		s.dispErr = err.Error()
		s.log.Warn().Err(err).Msg("display write failed")
	} else {
		s.log.Debug().Err(err).Msg("display write failed")
	}
}
