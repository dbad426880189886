package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	for _, env := range []string{
		"VCDJD_DEVICE_NAME", "VCDJD_DEVICE_NUMBER", "VCDJD_HTTP_PORT",
		"VCDJD_ANNOUNCE_INTERVAL_MS", "VCDJD_STATUS_INTERVAL_MS", "VCDJD_LOG_LEVEL",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"vcdjd"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DeviceName != defaultDeviceName {
		t.Errorf("DeviceName = %q, want %q", cfg.DeviceName, defaultDeviceName)
	}
	if cfg.DeviceNumber != defaultDeviceNumber {
		t.Errorf("DeviceNumber = %d, want %d", cfg.DeviceNumber, defaultDeviceNumber)
	}
	if cfg.AnnounceIntervalMillis != defaultAnnounceMillis {
		t.Errorf("AnnounceIntervalMillis = %d, want %d", cfg.AnnounceIntervalMillis, defaultAnnounceMillis)
	}
	if cfg.StatusIntervalMillis != defaultStatusMillis {
		t.Errorf("StatusIntervalMillis = %d, want %d", cfg.StatusIntervalMillis, defaultStatusMillis)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"vcdjd"}
	t.Setenv("VCDJD_HTTP_PORT", "9090")
	t.Setenv("VCDJD_DEVICE_NAME", "CDJ-TEST")
	t.Setenv("VCDJD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DeviceName != "CDJ-TEST" {
		t.Errorf("DeviceName = %q, want CDJ-TEST", cfg.DeviceName)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	os.Args = []string{"vcdjd", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("VCDJD_HTTP_PORT", "9090")
	t.Setenv("VCDJD_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidDeviceNumber(t *testing.T) {
	os.Args = []string{"vcdjd", "--device-number", "99"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid device number, got nil")
	}
}

func TestValidateInvalidAnnounceInterval(t *testing.T) {
	os.Args = []string{"vcdjd", "--announce-interval-ms", "50"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for announce interval below 200ms, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"vcdjd", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
