package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/luminet/stripd/internal/swap"
)

const debounceDelay = 100 * time.Millisecond

// Watch monitors the config file and republishes its runtime fields
// through the same hand-off cell the control channel uses, so a local
// edit behaves exactly like a set_config message. Blocks until ctx is
// cancelled. The watch is best-effort: a broken or invalid file is
// logged and skipped, never fatal.
func Watch(ctx context.Context, path string, cell *swap.Cell[Update], log zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: editors replace the inode.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watch error")
		case <-fire:
			c, err := Load(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("config reload failed; keeping current")
				continue
			}
			cell.Publish(&Update{
				PixelCount:  &c.PixelCount,
				FrameRateHz: &c.FrameRateHz,
				Brightness:  &c.Brightness,
				Gamma:       &c.Gamma,
				Dither:      &c.Dither,
			})
			log.Info().Str("path", path).Msg("config reloaded")
		}
	}
}
