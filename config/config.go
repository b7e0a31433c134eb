// Package config loads the kissfs command configuration.
package config

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/lvdlvd/kissfs/device"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New(errors.CodeInvalidConfig, "invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Log     Log      `yaml:"log"`
	Devices []Device `yaml:"devices"`
	Serve   Serve    `yaml:"serve"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, auto
}

// Device declares a device to register at boot.
type Device struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Frequency uint32 `yaml:"frequency"`
}

// Serve is where the NBD server listens.
type Serve struct {
	Network string `yaml:"network"` // unix or tcp
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "auto"},
		Devices: []Device{
			{Name: "rtc", Kind: "rtc", Frequency: device.DefaultFrequency},
		},
		Serve: Serve{Network: "unix", Address: "/tmp/kissfs.sock"},
	}
}

// Load reads the YAML file at path over the defaults and validates it.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates it. Unknown
// keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "decode configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("log.format %q: %w", c.Log.Format, ErrInvalid)
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: missing name: %w", i, ErrInvalid)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate name %q: %w", i, d.Name, ErrInvalid)
		}
		seen[d.Name] = true

		switch d.Kind {
		case "rtc":
			if !device.ValidFrequency(d.Frequency) {
				return fmt.Errorf("devices[%d]: frequency %d is not a power of two in [%d, %d]: %w",
					i, d.Frequency, device.MinFrequency, device.MaxFrequency, ErrInvalid)
			}
		default:
			return fmt.Errorf("devices[%d]: unknown kind %q: %w", i, d.Kind, ErrInvalid)
		}
	}

	switch c.Serve.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("serve.network %q: %w", c.Serve.Network, ErrInvalid)
	}
	if c.Serve.Address == "" {
		return fmt.Errorf("serve.address: empty: %w", ErrInvalid)
	}
	return nil
}

func (l Log) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: %w", l.Level, ErrInvalid)
}

// Logger returns a logger writing to w. The auto format is text when tty
// is set and JSON otherwise.
func (l Log) Logger(w io.Writer, tty bool) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	json := l.Format == "json" || (l.Format == "auto" && !tty)
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
