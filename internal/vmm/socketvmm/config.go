// Package socketvmm spawns a hypervisor child process, waits for its
// control socket, and speaks a JSON-over-unix-socket control protocol.
package socketvmm

import "time"

const (
	// DefaultSocketDir is the default directory control sockets live under.
	DefaultSocketDir = "/tmp/vmworker/vms"
	// DefaultHypervisorBinary is resolved against PATH if no absolute
	// path is configured.
	DefaultHypervisorBinary = "cloud-hypervisor"
	DefaultSocketTimeout    = 5 * time.Second

	initialPollInterval = 10 * time.Millisecond
	maxPollInterval     = 500 * time.Millisecond
)

// Config configures the default hypervisor backend.
type Config struct {
	SocketDir        string
	HypervisorBinary string
	SocketTimeout    time.Duration
	// CaptureBootLog wires the spawned process's stdout through a
	// logparser.Parser. Off by default since most hypervisor builds
	// don't emit @nix-style structured lines on stdout.
	CaptureBootLog bool
}

// LoadConfig returns Config with defaults applied to any zero-valued field.
func LoadConfig(cfg Config) Config {
	if cfg.SocketDir == "" {
		cfg.SocketDir = DefaultSocketDir
	}
	if cfg.HypervisorBinary == "" {
		cfg.HypervisorBinary = DefaultHypervisorBinary
	}
	if cfg.SocketTimeout == 0 {
		cfg.SocketTimeout = DefaultSocketTimeout
	}
	return cfg
}
