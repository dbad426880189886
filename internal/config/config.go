// Package config loads runtime configuration for the vcdjd daemon.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the virtual CDJ daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DeviceName             string
	DeviceNumber           int
	UseStandardPlayerNum   bool
	AnnounceIntervalMillis int
	StatusIntervalMillis   int
	TempoEpsilon           float64
	NetIface               string

	HTTPPort int
	LogLevel string
	LogFormat string
}

// defaults
const (
	defaultDeviceName     = "VCDJ"
	defaultDeviceNumber   = 0 // 0 = self-assign
	defaultAnnounceMillis = 1500
	defaultStatusMillis   = 200
	defaultTempoEpsilon   = 0.0001
	defaultHTTPPort       = 7320
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// envPrefix is the prefix for all vcdjd environment variables.
const envPrefix = "VCDJD_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("vcdjd", flag.ContinueOnError)

	fs.StringVar(&cfg.DeviceName, "device-name", defaultDeviceName, "device name announced on the Pro DJ Link network (max 20 bytes)")
	fs.IntVar(&cfg.DeviceNumber, "device-number", defaultDeviceNumber, "requested device number (1-15, 0 = self-assign)")
	fs.BoolVar(&cfg.UseStandardPlayerNum, "use-standard-player-number", false, "prefer a device number in 1-4 during self-assignment")
	fs.IntVar(&cfg.AnnounceIntervalMillis, "announce-interval-ms", defaultAnnounceMillis, "presence announcement interval in milliseconds (200-2000)")
	fs.IntVar(&cfg.StatusIntervalMillis, "status-interval-ms", defaultStatusMillis, "status packet interval in milliseconds (20-2000)")
	fs.Float64Var(&cfg.TempoEpsilon, "tempo-epsilon", defaultTempoEpsilon, "minimum BPM delta that triggers a tempoChanged notification")
	fs.StringVar(&cfg.NetIface, "net-iface", "", "network interface name (not read by the daemon: the interface is always auto-detected from discovered peers)")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "debug/metrics HTTP listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envOverride binds one flag to its environment fallback and the setter
// that writes a parsed value into the config.
type envOverride struct {
	flagName string
	envVar   string
	apply    func(cfg *Config, val string)
}

func setString(dst *string) func(*Config, string) {
	return func(_ *Config, v string) { *dst = v }
}

func setInt(dst *int) func(*Config, string) {
	return func(_ *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// applyEnvOverrides fills in environment values for any flag that was not
// explicitly provided on the command line, preserving the precedence:
// CLI flags > env vars > defaults. Unparseable numeric/boolean values are
// ignored and the flag default stands.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	overrides := []envOverride{
		{"device-name", envPrefix + "DEVICE_NAME", setString(&cfg.DeviceName)},
		{"device-number", envPrefix + "DEVICE_NUMBER", setInt(&cfg.DeviceNumber)},
		{"use-standard-player-number", envPrefix + "USE_STANDARD_PLAYER_NUMBER", func(c *Config, v string) {
			if b, err := strconv.ParseBool(v); err == nil {
				c.UseStandardPlayerNum = b
			}
		}},
		{"announce-interval-ms", envPrefix + "ANNOUNCE_INTERVAL_MS", setInt(&cfg.AnnounceIntervalMillis)},
		{"status-interval-ms", envPrefix + "STATUS_INTERVAL_MS", setInt(&cfg.StatusIntervalMillis)},
		{"tempo-epsilon", envPrefix + "TEMPO_EPSILON", func(c *Config, v string) {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				c.TempoEpsilon = f
			}
		}},
		{"net-iface", envPrefix + "NET_IFACE", setString(&cfg.NetIface)},
		{"http-port", envPrefix + "HTTP_PORT", setInt(&cfg.HTTPPort)},
		{"log-level", envPrefix + "LOG_LEVEL", setString(&cfg.LogLevel)},
		{"log-format", envPrefix + "LOG_FORMAT", setString(&cfg.LogFormat)},
	}

	for _, o := range overrides {
		if set[o.flagName] {
			continue
		}
		if val, ok := os.LookupEnv(o.envVar); ok && val != "" {
			o.apply(cfg, val)
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.DeviceNumber < 0 || c.DeviceNumber > 15 {
		return fmt.Errorf("device-number must be between 0 and 15, got %d", c.DeviceNumber)
	}
	if len(c.DeviceName) > 20 {
		return fmt.Errorf("device-name must be at most 20 bytes, got %d", len(c.DeviceName))
	}
	if c.AnnounceIntervalMillis < 200 || c.AnnounceIntervalMillis > 2000 {
		return fmt.Errorf("announce-interval-ms must be between 200 and 2000, got %d", c.AnnounceIntervalMillis)
	}
	if c.StatusIntervalMillis < 20 || c.StatusIntervalMillis > 2000 {
		return fmt.Errorf("status-interval-ms must be between 20 and 2000, got %d", c.StatusIntervalMillis)
	}
	if c.TempoEpsilon <= 0 {
		return fmt.Errorf("tempo-epsilon must be positive, got %f", c.TempoEpsilon)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// slogLevels maps the validated log-level strings onto their slog values.
var slogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogHandler builds the handler the daemon's root logger writes through,
// honoring the configured output format and level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	switch c.LogFormat {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// SlogLevel resolves the configured log level, defaulting to info for
// anything validate didn't catch.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := slogLevels[c.LogLevel]; ok {
		return lvl
	}
	return slog.LevelInfo
}
