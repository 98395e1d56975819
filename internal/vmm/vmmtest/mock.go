// Package vmmtest provides a mock vmm.Backend with atomic call counters
// and per-step error injection, used by internal/manager's tests. Ported
// from the original worker's MockCallTracker/MockVmm (Arc<AtomicUsize>)
// to Go's sync/atomic.
package vmmtest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/seantiz/vmworker/internal/model"
	"github.com/seantiz/vmworker/internal/vmm"
)

// CallTracker counts invocations of the lifecycle operations the Manager
// drives (Prepare, Spawn, Create, Boot, Shutdown, Delete, Kill, Cleanup)
// so tests can assert on exact call counts (S1-S5 in the
// testable-properties list). Info, Counters, Ping, Pause, Resume and
// BuildConfig are not counted.
type CallTracker struct {
	prepares  atomic.Int64
	spawns    atomic.Int64
	creates   atomic.Int64
	boots     atomic.Int64
	shutdowns atomic.Int64
	deletes   atomic.Int64
	kills     atomic.Int64
	cleanups  atomic.Int64
}

func (t *CallTracker) Prepares() int64  { return t.prepares.Load() }
func (t *CallTracker) Spawns() int64    { return t.spawns.Load() }
func (t *CallTracker) Creates() int64   { return t.creates.Load() }
func (t *CallTracker) Boots() int64     { return t.boots.Load() }
func (t *CallTracker) Shutdowns() int64 { return t.shutdowns.Load() }
func (t *CallTracker) Deletes() int64   { return t.deletes.Load() }
func (t *CallTracker) Kills() int64     { return t.kills.Load() }
func (t *CallTracker) Cleanups() int64  { return t.cleanups.Load() }

// Config selects which step of the backend/client lifecycle should fail,
// and with what message. A zero-value Config never fails.
type Config struct {
	PrepareError  string
	SpawnError    string
	CreateError   string
	BootError     string
	ShutdownError string
	DeleteError   string
}

// Backend is the mock vmm.Backend. Every Spawn call hands out a fresh
// Client/Process pair sharing the same Tracker and Config, exactly as
// the original's MockVmm construction does.
type Backend struct {
	Tracker *CallTracker
	Config  Config
}

var _ vmm.Backend = (*Backend)(nil)

func NewBackend(cfg Config) *Backend {
	return &Backend{Tracker: &CallTracker{}, Config: cfg}
}

func (b *Backend) Prepare(ctx context.Context, spec *model.VmSpec) error {
	b.Tracker.prepares.Add(1)
	if b.Config.PrepareError != "" {
		return fmt.Errorf("%s", b.Config.PrepareError)
	}
	return nil
}

func (b *Backend) Spawn(ctx context.Context, vmID model.VmId, spec *model.VmSpec) (vmm.Client, vmm.Process, string, error) {
	b.Tracker.spawns.Add(1)
	if b.Config.SpawnError != "" {
		return nil, nil, "", fmt.Errorf("%s", b.Config.SpawnError)
	}
	socketPath := "/tmp/vmworker-mock/" + string(vmID) + ".sock"
	client := &Client{tracker: b.Tracker, config: b.Config}
	process := &Process{tracker: b.Tracker}
	return client, process, socketPath, nil
}

func (b *Backend) BuildConfig(spec *model.VmSpec) vmm.Config {
	return VmConfig{
		CPU:           spec.CPU,
		MemoryMB:      spec.MemoryMB,
		KernelPath:    spec.KernelPath,
		DiskImagePath: spec.DiskImagePath,
	}
}

// VmConfig is the mock backend's native config shape, grounded on the
// original's MockVmConfig.
type VmConfig struct {
	CPU           int
	MemoryMB      int
	KernelPath    string
	DiskImagePath string
}

// Client is the mock per-VM control handle.
type Client struct {
	tracker *CallTracker
	config  Config
	state   string
}

var _ vmm.Client = (*Client)(nil)

func (c *Client) Create(ctx context.Context, config vmm.Config) error {
	c.tracker.creates.Add(1)
	if c.config.CreateError != "" {
		return fmt.Errorf("%s", c.config.CreateError)
	}
	c.state = "created"
	return nil
}

func (c *Client) Boot(ctx context.Context) error {
	c.tracker.boots.Add(1)
	if c.config.BootError != "" {
		return fmt.Errorf("%s", c.config.BootError)
	}
	c.state = "running"
	return nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	c.tracker.shutdowns.Add(1)
	if c.config.ShutdownError != "" {
		return fmt.Errorf("%s", c.config.ShutdownError)
	}
	c.state = "stopped"
	return nil
}

func (c *Client) Delete(ctx context.Context) error {
	c.tracker.deletes.Add(1)
	if c.config.DeleteError != "" {
		return fmt.Errorf("%s", c.config.DeleteError)
	}
	return nil
}

func (c *Client) Info(ctx context.Context) (vmm.Info, error) {
	return MockVmInfo{State: c.state}, nil
}

func (c *Client) Counters(ctx context.Context) (vmm.Counters, error) {
	return MockVmCounters{}, nil
}

func (c *Client) Ping(ctx context.Context) error { return nil }

func (c *Client) Pause(ctx context.Context) error {
	c.state = "paused"
	return nil
}

func (c *Client) Resume(ctx context.Context) error {
	c.state = "running"
	return nil
}

// MockVmInfo is the mock backend's native info shape.
type MockVmInfo struct {
	State string
}

// MockVmCounters is the mock backend's native counters shape.
type MockVmCounters struct{}

// Process is the mock OS process handle.
type Process struct {
	tracker *CallTracker
}

var _ vmm.Process = (*Process)(nil)

func (p *Process) Kill(ctx context.Context) error {
	p.tracker.kills.Add(1)
	return nil
}

func (p *Process) Cleanup(ctx context.Context) error {
	p.tracker.cleanups.Add(1)
	return nil
}
