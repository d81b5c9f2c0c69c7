// Package app wires the daemon together: display selection, the render
// scheduler, the control channel, and the config file watcher share one
// lifetime and shut down as a unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminet/stripd/internal/config"
	"github.com/luminet/stripd/internal/control"
	"github.com/luminet/stripd/internal/display"
	"github.com/luminet/stripd/internal/program"
	"github.com/luminet/stripd/internal/render"
	"github.com/luminet/stripd/internal/swap"
)

// drainWindow bounds how long shutdown waits for the scheduler to finish
// its in-flight frame and emit the final all-off frame.
const drainWindow = 5 * time.Second

// ErrForcedShutdown reports that the drain window elapsed before the
// render loop stopped.
var ErrForcedShutdown = errors.New("app: drain window elapsed, forced shutdown")

type App struct {
	cfg     config.Config
	cfgPath string

	disp  display.Display
	sched *render.Scheduler
	ch    *control.Channel

	cfgCell *swap.Cell[config.Update]

	log zerolog.Logger
}

// New assembles the daemon from a validated config. The display backend
// is chosen once here; a hardware init failure degrades to the terminal
// backend rather than failing startup.
func New(cfg config.Config, cfgPath string, forceTerminal bool, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:     cfg,
		cfgPath: cfgPath,
		cfgCell: &swap.Cell[config.Update]{},
		log:     log.With().Str("component", "app").Logger(),
	}
	a.disp = openDisplay(cfg, forceTerminal, log)

	engine := program.NewEngine(log)
	slot := program.NewSlot(cfg.FaultThreshold)
	progCell := &swap.Cell[program.Load]{}

	a.sched = render.NewScheduler(cfg, a.disp, slot, a.cfgCell, progCell, log)
	a.ch = control.New(cfg, engine, a.sched, a.cfgCell, progCell, log)
	return a, nil
}

func openDisplay(cfg config.Config, forceTerminal bool, log zerolog.Logger) display.Display {
	if !forceTerminal && cfg.Display == config.ModeHardware {
		hw, err := display.NewHardware(cfg.SPI.Dev, cfg.SPI.SpeedHz, cfg.PixelCount, log)
		if err == nil {
			log.Info().Str("dev", cfg.SPI.Dev).Int("speed_hz", cfg.SPI.SpeedHz).
				Msg("hardware display ready")
			return hw
		}
		log.Warn().Err(err).Str("dev", cfg.SPI.Dev).
			Msg("hardware init failed; falling back to terminal")
	}
	return display.NewTerminal(os.Stdout, cfg.PixelCount)
}

// Run starts every component and blocks until ctx is cancelled and the
// render loop has drained, or the drain window elapses. The daemon never
// stops on its own: control disconnects reconnect forever and render
// faults recover in place.
func (a *App) Run(ctx context.Context) error {
	if a.cfgPath != "" {
		go func() {
			if err := config.Watch(ctx, a.cfgPath, a.cfgCell, a.log); err != nil {
				a.log.Warn().Err(err).Str("path", a.cfgPath).Msg("config watcher unavailable")
			}
		}()
	}

	go func() { _ = a.ch.Run(ctx) }()

	done := make(chan error, 1)
	go func() { done <- a.sched.Run(ctx) }()

	<-ctx.Done()
	a.log.Info().Msg("shutting down; draining render loop")

	var err error
	select {
	case err = <-done:
	case <-time.After(drainWindow):
		err = ErrForcedShutdown
	}
	if cerr := a.disp.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// ControlState reports the control session state, for diagnostics.
func (a *App) ControlState() control.Session { return a.ch.State() }

// RenderStats reports a snapshot of the render loop counters.
func (a *App) RenderStats() render.Stats { return a.sched.Stats() }
