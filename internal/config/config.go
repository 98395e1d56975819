// Package config loads process configuration from the environment and
// builds the worker's structured logger.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config is the worker process's environment-derived configuration.
type Config struct {
	WorkerId         string
	ListenAddr       string
	LogLevel         string
	SocketDir        string
	HypervisorBinary string
	SocketTimeout    time.Duration
	CNIBinDir        string
	CNIConfigDir     string
	DBPath           string
}

// Load reads VMWORKER_* environment variables, applying the same
// defaults the hypervisor backend and adapter otherwise fall back to.
func Load() Config {
	return Config{
		WorkerId:         getEnv("VMWORKER_ID", "worker-1"),
		ListenAddr:       getEnv("VMWORKER_LISTEN_ADDR", ":8080"),
		LogLevel:         getEnv("VMWORKER_LOG_LEVEL", "info"),
		SocketDir:        getEnv("VMWORKER_SOCKET_DIR", "/tmp/vmworker/vms"),
		HypervisorBinary: getEnv("VMWORKER_HYPERVISOR_BINARY", "cloud-hypervisor"),
		SocketTimeout:    getEnvDuration("VMWORKER_SOCKET_TIMEOUT", 5*time.Second),
		CNIBinDir:        getEnv("VMWORKER_CNI_BIN_DIR", "/opt/cni/bin"),
		CNIConfigDir:     getEnv("VMWORKER_CNI_CONFIG_DIR", "/etc/cni/net.d"),
		DBPath:           getEnv("VMWORKER_DB_PATH", "vmworker.db"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a JSON slog.Logger writing to w at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)})
	return slog.New(handler)
}
