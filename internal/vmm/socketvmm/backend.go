package socketvmm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/seantiz/vmworker/internal/history"
	"github.com/seantiz/vmworker/internal/logparser"
	"github.com/seantiz/vmworker/internal/model"
	"github.com/seantiz/vmworker/internal/netcni"
	"github.com/seantiz/vmworker/internal/vmm"
)

// Backend is the default hypervisor backend: it owns process spawning,
// the socket-appearance poll, and VmSpec→native-config translation.
// Network wiring is delegated to an optional *netcni.Manager, called
// from Spawn, outside BuildConfig. archive and broker are likewise
// optional: when both are nil, boot-log capture (if enabled) is parsed
// in-process but never persisted or streamed anywhere.
type Backend struct {
	cfg     Config
	net     *netcni.Manager
	archive *history.Store
	broker  *history.LogBroker
	logger  *slog.Logger
}

var _ vmm.Backend = (*Backend)(nil)

// New builds a Backend. net, archive, and broker may all be nil; each
// missing collaborator simply disables the feature it backs.
func New(cfg Config, net *netcni.Manager, archive *history.Store, broker *history.LogBroker, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: LoadConfig(cfg), net: net, archive: archive, broker: broker, logger: logger}
}

// Prepare checks that every artifact a VM spec names exists locally.
// It treats "missing" as a hard failure rather than attempting a
// remote fetch, since no artifact store is wired in here.
func (b *Backend) Prepare(ctx context.Context, spec *model.VmSpec) error {
	paths := []string{spec.KernelPath, spec.DiskImagePath}
	if spec.InitrdPath != nil {
		paths = append(paths, *spec.InitrdPath)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("artifact %q not available: %w", p, err)
		}
	}
	return nil
}

// Spawn mkdirs the socket dir, removes a stale socket for vmID, sets up
// per-VM networking, launches the hypervisor binary, and polls for the
// control socket with exponential backoff capped at 500ms. The spec's
// network allow-list rides along into the CNI setup as runtime args;
// everything else in the spec is BuildConfig's concern.
func (b *Backend) Spawn(ctx context.Context, vmID model.VmId, spec *model.VmSpec) (vmm.Client, vmm.Process, string, error) {
	if err := os.MkdirAll(b.cfg.SocketDir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("mkdir socket dir: %w", err)
	}

	socketPath := filepath.Join(b.cfg.SocketDir, string(vmID)+".sock")
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, "", fmt.Errorf("removing stale socket: %w", err)
	}

	if b.net != nil {
		if _, err := b.net.Setup(ctx, string(vmID), spec.NetworkAllowedDomains); err != nil {
			return nil, nil, "", fmt.Errorf("network setup: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, b.cfg.HypervisorBinary, "--api-socket", socketPath)

	// b.broker is passed through a narrow interface for the same reason
	// as b.net below: a nil *history.LogBroker must become a genuinely
	// nil interface, not a non-nil interface wrapping a nil pointer.
	var logBroker logPublisher
	if b.broker != nil {
		logBroker = b.broker
	}

	var bootLog *logparser.Parser
	var bootLogW *io.PipeWriter
	var bootLogDone chan struct{}
	if b.cfg.CaptureBootLog {
		bootLog, bootLogW, bootLogDone = attachBootLogCapture(cmd, b.logger, logBroker, string(vmID))
	}

	if err := cmd.Start(); err != nil {
		if bootLogW != nil {
			_ = bootLogW.Close()
			<-bootLogDone
		}
		if b.net != nil {
			_ = b.net.Teardown(ctx, string(vmID))
		}
		if logBroker != nil {
			logBroker.Close(string(vmID))
		}
		return nil, nil, "", fmt.Errorf("starting hypervisor process: %w", err)
	}

	if err := waitForSocket(ctx, socketPath, b.cfg.SocketTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if bootLogW != nil {
			_ = bootLogW.Close()
			<-bootLogDone
		}
		if b.net != nil {
			_ = b.net.Teardown(ctx, string(vmID))
		}
		if logBroker != nil {
			logBroker.Close(string(vmID))
		}
		return nil, nil, "", err
	}

	// b.net is passed through a narrow interface; when it's a nil
	// *netcni.Manager, assign nothing so Process sees a genuinely nil
	// interface rather than a non-nil interface wrapping a nil pointer.
	var teardown networkTeardowner
	if b.net != nil {
		teardown = b.net
	}
	var archive historySink
	if b.archive != nil {
		archive = b.archive
	}

	client := NewClient(socketPath)
	process := newProcess(cmd, socketPath, string(vmID), processOptions{
		net:         teardown,
		bootLog:     bootLog,
		bootLogW:    bootLogW,
		bootLogDone: bootLogDone,
		history:     archive,
		broker:      logBroker,
	})
	return client, process, socketPath, nil
}

// waitForSocket polls path every interval, doubling up to 500ms, until it
// appears or timeout elapses.
func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	if timeout <= 0 {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		return fmt.Errorf("socket %q did not appear within %s", path, timeout)
	}

	deadline := time.Now().Add(timeout)
	interval := initialPollInterval

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("socket %q did not appear within %s", path, timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

// BuildConfig translates a VM spec into the native VmConfig: cpu maps
// to boot_vcpus == max_vcpus, memory in bytes, a single rw disk,
// kernel+initrd+cmdline payload, console Off, serial Null, entropy
// /dev/urandom, no network interfaces in the default mapping.
func (b *Backend) BuildConfig(spec *model.VmSpec) vmm.Config {
	return VmConfig{
		CPUs: CPUsConfig{
			BootVcpus: spec.CPU,
			MaxVcpus:  spec.CPU,
		},
		Memory: MemoryConfig{
			Size: spec.MemoryBytes(),
		},
		Payload: PayloadConfig{
			Kernel:  spec.KernelPath,
			Initrd:  spec.InitrdPath,
			Cmdline: spec.Cmdline,
		},
		Disks: []DiskConfig{
			{Path: spec.DiskImagePath, Readonly: false},
		},
		Rng:     &RngConfig{Src: "/dev/urandom"},
		Console: &ConsoleConfig{Mode: "Off"},
		Serial:  &ConsoleConfig{Mode: "Null"},
	}
}
