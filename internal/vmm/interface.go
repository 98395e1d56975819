// Package vmm defines the hypervisor backend abstraction: a per-VM
// Client, an OS process Handle, and a Backend factory. The Manager
// (internal/manager) is polymorphic over these three capability sets; it
// never imports a concrete backend package directly.
package vmm

import (
	"context"

	"github.com/seantiz/vmworker/internal/model"
)

// Config is the backend-native VM configuration produced by
// Backend.BuildConfig from a model.VmSpec. Each concrete Backend defines
// its own shape; the Manager treats it opaquely.
type Config any

// Info is the backend-native VM info snapshot returned by Client.Info.
type Info any

// Counters is the backend-native VM counters snapshot returned by
// Client.Counters.
type Counters any

// Client is the per-VM control handle, one instance per control socket.
// Every operation may fail with a backend-defined error; the Manager
// wraps failures into model.VmError.
type Client interface {
	Create(ctx context.Context, config Config) error
	Boot(ctx context.Context) error
	// Shutdown requests a graceful stop. Idempotent from Stopped.
	Shutdown(ctx context.Context) error
	// Delete removes the VM definition. Must follow Shutdown.
	Delete(ctx context.Context) error
	Info(ctx context.Context) (Info, error)
	Counters(ctx context.Context) (Counters, error)
	Ping(ctx context.Context) error
	// Pause is valid only from Running.
	Pause(ctx context.Context) error
	// Resume is valid only from Paused.
	Resume(ctx context.Context) error
}

// Process is an opaque handle to the OS process backing one VM.
type Process interface {
	// Kill force-terminates the process. Best-effort: errors are logged
	// by the caller, never propagated.
	Kill(ctx context.Context) error
	// Cleanup releases auxiliary resources (control socket file, network
	// namespace, writable disk overlays). Must be safe to call more than
	// once and after Kill.
	Cleanup(ctx context.Context) error
}

// Backend is the factory the Manager owns. It is shared read-only by the
// Manager; its methods take no mutable receiver state tied to one VM.
type Backend interface {
	// Prepare ensures all artifacts named by spec exist locally, fetching
	// from a remote artifact store if needed. The default implementation
	// is a no-op. Failure aborts Create before any process is spawned.
	Prepare(ctx context.Context, spec *model.VmSpec) error

	// Spawn ensures the control-socket directory exists, removes any
	// stale socket named after vmID, launches the hypervisor child
	// process, and polls for the control socket to appear with
	// exponential backoff capped at 500ms, bounded by a configured
	// timeout. spec carries the network allow-list a backend threads
	// into its out-of-band network setup; the rest of the spec is
	// translated separately by BuildConfig. Returns the constructed
	// client bound to the socket path.
	Spawn(ctx context.Context, vmID model.VmId, spec *model.VmSpec) (Client, Process, string, error)

	// BuildConfig translates spec into the backend's native config.
	BuildConfig(spec *model.VmSpec) Config
}
