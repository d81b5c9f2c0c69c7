package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the output backend. Chosen once at startup.
type Mode string

const (
	ModeHardware Mode = "hardware"
	ModeTerminal Mode = "terminal"
)

type ServerCfg struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type SPICfg struct {
	Dev     string `yaml:"dev"`      // e.g. /dev/spidev0.0
	SpeedHz int    `yaml:"speed_hz"` // e.g. 2500000
}

type Config struct {
	PixelCount  int     `yaml:"pixel_count"`
	FrameRateHz int     `yaml:"frame_rate_hz"`
	Brightness  float64 `yaml:"brightness"` // 0..1
	Gamma       float64 `yaml:"gamma"`      // > 0
	Dither      bool    `yaml:"dither"`
	Display     Mode    `yaml:"display"` // "hardware" | "terminal"

	FaultThreshold int      `yaml:"fault_threshold"` // consecutive faults before unload
	FallbackColor  [3]uint8 `yaml:"fallback_color"`

	Server ServerCfg `yaml:"server"`
	SPI    SPICfg    `yaml:"spi,omitempty"`
}

// Default returns the built-in configuration. Load unmarshals on top of
// it so absent keys keep their defaults.
func Default() Config {
	return Config{
		PixelCount:     60,
		FrameRateHz:    30,
		Brightness:     0.8,
		Gamma:          2.2,
		Dither:         true,
		Display:        ModeTerminal,
		FaultThreshold: 5,
		FallbackColor:  [3]uint8{32, 0, 0},
		Server: ServerCfg{
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		SPI: SPICfg{Dev: "/dev/spidev0.0", SpeedHz: 2500000},
	}
}

func Load(path string) (Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func Save(path string, c Config) error {
	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks the self-consistency invariants. A Config that fails
// here must never reach the render path.
func (c Config) Validate() error {
	if c.PixelCount < 1 || c.PixelCount > 65535 {
		return fmt.Errorf("pixel_count %d out of range [1,65535]", c.PixelCount)
	}
	if c.FrameRateHz < 1 || c.FrameRateHz > 1000 {
		return fmt.Errorf("frame_rate_hz %d out of range [1,1000]", c.FrameRateHz)
	}
	if c.Brightness < 0 || c.Brightness > 1 {
		return fmt.Errorf("brightness %v out of range [0,1]", c.Brightness)
	}
	if c.Gamma <= 0 {
		return fmt.Errorf("gamma %v must be > 0", c.Gamma)
	}
	if c.Display != ModeHardware && c.Display != ModeTerminal {
		return fmt.Errorf("display %q must be %q or %q", c.Display, ModeHardware, ModeTerminal)
	}
	if c.FaultThreshold < 1 {
		return fmt.Errorf("fault_threshold %d must be >= 1", c.FaultThreshold)
	}
	return nil
}

// Period returns the frame period for the configured rate.
func (c Config) Period() time.Duration {
	return time.Second / time.Duration(c.FrameRateHz)
}

// Update is a partial configuration change. Nil fields are left alone.
// Updates are merged over a full Config and applied all-or-nothing.
type Update struct {
	PixelCount  *int     `json:"pixel_count,omitempty"`
	FrameRateHz *int     `json:"frame_rate_hz,omitempty"`
	Brightness  *float64 `json:"brightness,omitempty"`
	Gamma       *float64 `json:"gamma,omitempty"`
	Dither      *bool    `json:"dither,omitempty"`
}

// Merge returns a copy of c with the update applied, or an error leaving
// c untouched when the result would be invalid. No partial application.
func (c Config) Merge(u Update) (Config, error) {
	out := c
	if u.PixelCount != nil {
		out.PixelCount = *u.PixelCount
	}
	if u.FrameRateHz != nil {
		out.FrameRateHz = *u.FrameRateHz
	}
	if u.Brightness != nil {
		out.Brightness = *u.Brightness
	}
	if u.Gamma != nil {
		out.Gamma = *u.Gamma
	}
	if u.Dither != nil {
		out.Dither = *u.Dither
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}
