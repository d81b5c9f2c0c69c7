package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/luminet/stripd/internal/app"
	"github.com/luminet/stripd/internal/config"
)

var (
	configPath string
	serverURL  string
	debug      bool
	terminal   bool
)

var rootCmd = &cobra.Command{
	Use:   "stripd",
	Short: "LED strip animation daemon",
	Long: "stripd drives an addressable LED strip from sandboxed animation\n" +
		"programs pushed over a websocket control channel. It runs until\n" +
		"signalled, reconnecting and recovering from faults on its own.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "control server websocket URL (overrides config)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "verbose logging")
	rootCmd.Flags().BoolVar(&terminal, "terminal", false, "force the terminal display backend")
}

func run(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", configPath).Msg("no config file; using defaults")
		} else {
			return err
		}
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if cfg.Server.URL == "" {
		return errors.New("no control server URL: set server.url in config or pass --server")
	}

	a, err := app.New(cfg, configPath, terminal, log.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("server", cfg.Server.URL).
		Int("pixels", cfg.PixelCount).
		Int("fps", cfg.FrameRateHz).
		Str("display", string(cfg.Display)).
		Msg("stripd starting")

	if err := a.Run(ctx); err != nil {
		if errors.Is(err, app.ErrForcedShutdown) {
			log.Error().Msg("render loop did not drain in time")
		}
		return err
	}
	log.Info().Msg("stripd stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
