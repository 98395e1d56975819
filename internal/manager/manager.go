// Package manager implements the single actor that owns the map of
// live VMs and drives each through its lifecycle.
package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/vmworker/internal/metrics"
	"github.com/seantiz/vmworker/internal/model"
	"github.com/seantiz/vmworker/internal/vmm"
)

// Config is the Manager's static identity. Worker identity lives here,
// not in a process-wide singleton.
type Config struct {
	WorkerId string
}

type vmHandle struct {
	spec       *model.VmSpec
	client     vmm.Client
	process    vmm.Process
	socketPath string
	status     model.VmStatus
}

// Manager is the only actor in the core. Its vms map is touched
// exclusively from the goroutine running Run; no lock guards it.
type Manager struct {
	vms     map[model.VmId]*vmHandle
	config  Config
	backend vmm.Backend
	inbox   chan model.Message
	logger  *slog.Logger
}

// New builds a Manager with the given inbound channel buffer size. The
// channel is bounded: senders wait when it's full.
func New(cfg Config, backend vmm.Backend, logger *slog.Logger, inboxSize int) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		vms:     make(map[model.VmId]*vmHandle),
		config:  cfg,
		backend: backend,
		inbox:   make(chan model.Message, inboxSize),
		logger:  logger,
	}
}

// Inbox returns the send-only handle the adapter boundary uses to submit
// commands. It is the only way to reach the Manager; callers never get a
// reference into the vms map itself.
func (m *Manager) Inbox() chan<- model.Message {
	return m.inbox
}

// Run drives the dispatch loop until ctx is cancelled or the inbox is
// closed. Errors from individual commands never terminate the loop.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-m.inbox:
			if !ok {
				return
			}
			m.dispatch(ctx, msg)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, msg model.Message) {
	switch payload := msg.Payload.(type) {
	case model.CreateCommand:
		resp, err := m.handleCreate(ctx, payload.Spec)
		reply(msg, resp, err)
	case model.DeleteCommand:
		resp, err := m.handleDelete(ctx, payload.Id)
		reply(msg, resp, err)
	case model.ListCommand:
		reply(msg, m.handleList(), nil)
	case model.GetWorkerStatusCommand:
		reply(msg, m.handleGetWorkerStatus(), nil)
	default:
		reply(msg, nil, model.NewInternal("unknown command payload", nil))
	}
}

// reply delivers the single response this command will ever produce. The
// send is non-blocking: Go channels don't error on an abandoned receiver
// the way Rust's oneshot does, so a caller that stopped listening (a
// cancelled adapter request) must never stall the actor loop.
func reply(msg model.Message, resp model.CommandResponse, err *model.VmError) {
	select {
	case msg.Reply <- model.Reply{Response: resp, Err: err}:
	default:
	}
}

func (m *Manager) handleCreate(ctx context.Context, spec *model.VmSpec) (model.CommandResponse, *model.VmError) {
	createStart := time.Now()
	resp, err := m.doCreate(ctx, spec)
	metrics.VmCreateDuration.Observe(time.Since(createStart).Seconds())
	if err != nil {
		metrics.VmLifecycleOutcomes.WithLabelValues("create", "failure").Inc()
	} else {
		metrics.VmLifecycleOutcomes.WithLabelValues("create", "success").Inc()
	}
	metrics.ActiveVMs.Set(float64(len(m.vms)))
	return resp, err
}

func (m *Manager) doCreate(ctx context.Context, spec *model.VmSpec) (model.CommandResponse, *model.VmError) {
	vmID := model.NewVmID()
	if _, exists := m.vms[vmID]; exists {
		return nil, model.NewAlreadyExists(vmID)
	}

	if err := m.backend.Prepare(ctx, spec); err != nil {
		m.logger.Error("vm prepare failed", "vmId", vmID, "error", err)
		return nil, model.NewInternal("prepare failed", err)
	}

	spawnStart := time.Now()
	client, process, socketPath, err := m.backend.Spawn(ctx, vmID, spec)
	metrics.VmSpawnDuration.Observe(time.Since(spawnStart).Seconds())
	if err != nil {
		m.logger.Error("vm spawn failed", "vmId", vmID, "error", err)
		return nil, model.NewProcessFailed("spawn failed", err)
	}

	config := m.backend.BuildConfig(spec)

	if err := client.Create(ctx, config); err != nil {
		m.killSpawned(ctx, vmID, process)
		return nil, model.NewHypervisor("vm.create failed: "+err.Error(), err)
	}

	if err := client.Boot(ctx); err != nil {
		m.killSpawned(ctx, vmID, process)
		return nil, model.NewHypervisor("vm.boot failed: "+err.Error(), err)
	}

	m.vms[vmID] = &vmHandle{
		spec:       spec,
		client:     client,
		process:    process,
		socketPath: socketPath,
		status:     model.Running(),
	}
	m.logger.Info("vm created", "vmId", vmID, "workerId", m.config.WorkerId)
	return model.VmIdResponse{Id: vmID}, nil
}

// killSpawned is the explicit stand-in for kill-on-drop: Go has no
// destructors, so every early-return path between Spawn and the map
// insert must kill the process itself, or it leaks.
func (m *Manager) killSpawned(ctx context.Context, vmID model.VmId, process vmm.Process) {
	if err := process.Kill(ctx); err != nil {
		m.logger.Error("failed to kill process after create/boot failure", "vmId", vmID, "error", err)
	}
}

func (m *Manager) handleDelete(ctx context.Context, id model.VmId) (model.CommandResponse, *model.VmError) {
	deleteStart := time.Now()
	resp, err := m.doDelete(ctx, id)
	metrics.VmDeleteDuration.Observe(time.Since(deleteStart).Seconds())
	if err != nil {
		metrics.VmLifecycleOutcomes.WithLabelValues("delete", "failure").Inc()
	} else {
		metrics.VmLifecycleOutcomes.WithLabelValues("delete", "success").Inc()
	}
	metrics.ActiveVMs.Set(float64(len(m.vms)))
	return resp, err
}

func (m *Manager) doDelete(ctx context.Context, id model.VmId) (model.CommandResponse, *model.VmError) {
	handle, ok := m.vms[id]
	if !ok {
		return nil, model.NewNotFound(id)
	}
	delete(m.vms, id)

	if err := handle.client.Shutdown(ctx); err != nil {
		m.logger.Warn("vm shutdown failed during delete", "vmId", id, "error", err)
	}
	if err := handle.client.Delete(ctx); err != nil {
		m.logger.Warn("vm delete failed during delete", "vmId", id, "error", err)
	}
	if err := handle.process.Kill(ctx); err != nil {
		m.logger.Warn("process kill failed during delete", "vmId", id, "error", err)
	}
	if err := handle.process.Cleanup(ctx); err != nil {
		m.logger.Warn("process cleanup failed during delete", "vmId", id, "error", err)
	}

	m.logger.Info("vm deleted", "vmId", id)
	return model.UnitResponse{}, nil
}

func (m *Manager) handleList() model.CommandResponse {
	vms := make([]model.VmInfo, 0, len(m.vms))
	for id, handle := range m.vms {
		hash := handle.spec.ContentHash()
		vms = append(vms, model.VmInfo{
			Id:           id,
			WorkerId:     m.config.WorkerId,
			Status:       handle.status,
			DesiredHash:  hash,
			ObservedHash: hash,
			Metrics:      model.Metrics{},
		})
	}
	return model.VmListResponse{Vms: vms}
}

func (m *Manager) handleGetWorkerStatus() model.CommandResponse {
	running := 0
	for _, handle := range m.vms {
		if handle.status.Kind == model.StatusRunning {
			running++
		}
	}
	return model.WorkerInfoResponse{
		Info: model.WorkerInfo{
			Id:              m.config.WorkerId,
			Healthy:         true,
			Generation:      0,
			RunningVmsCount: running,
		},
	}
}
