package manager

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/vmworker/internal/model"
	"github.com/seantiz/vmworker/internal/vmm/vmmtest"
)

func newTestManager(t *testing.T, backend *vmmtest.Backend) (*Manager, func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := New(Config{WorkerId: "worker-1"}, backend, logger, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(cancel)
	return mgr, cancel
}

func send(t *testing.T, mgr *Manager, payload model.CommandPayload) model.Reply {
	t.Helper()
	msg := model.NewMessage(payload)
	select {
	case mgr.Inbox() <- msg:
	case <-time.After(time.Second):
		t.Fatal("timed out sending message")
	}
	select {
	case r := <-msg.Reply:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}
	return model.Reply{}
}

func happySpec() *model.VmSpec {
	return &model.VmSpec{
		Toplevel:              "/store/a",
		KernelPath:            "/store/k",
		DiskImagePath:         "/store/d",
		Cmdline:               "console=ttyS0",
		CPU:                   2,
		MemoryMB:              1024,
		NetworkAllowedDomains: []string{},
	}
}

// S1 - Create happy path.
func TestCreateHappyPath(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	resp, ok := r.Response.(model.VmIdResponse)
	if !ok {
		t.Fatalf("unexpected response type %T", r.Response)
	}
	if len(resp.Id) != 36 || strings.Count(string(resp.Id), "-") != 4 {
		t.Fatalf("vmId %q is not 36 chars with four hyphens", resp.Id)
	}

	if backend.Tracker.Prepares() != 1 || backend.Tracker.Spawns() != 1 ||
		backend.Tracker.Creates() != 1 || backend.Tracker.Boots() != 1 {
		t.Fatalf("unexpected tracker counts: %+v", backend.Tracker)
	}
}

// S2 - Spawn failure.
func TestCreateSpawnFailure(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{SpawnError: "disk full"})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	if r.Err == nil || r.Err.Kind != model.KindProcessFailed {
		t.Fatalf("expected ProcessFailed, got %+v", r.Err)
	}

	list := send(t, mgr, model.ListCommand{})
	vms := list.Response.(model.VmListResponse).Vms
	if len(vms) != 0 {
		t.Fatalf("expected empty vm list after failed create, got %d", len(vms))
	}
}

// Invariant #3: a prepare failure aborts before any process is spawned.
func TestCreatePrepareFailure(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{PrepareError: "artifact fetch failed"})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	if r.Err == nil || r.Err.Kind != model.KindInternal {
		t.Fatalf("expected Internal, got %+v", r.Err)
	}
	if backend.Tracker.Spawns() != 0 || backend.Tracker.Kills() != 0 {
		t.Fatalf("prepare failure must not spawn or kill anything: %+v", backend.Tracker)
	}

	list := send(t, mgr, model.ListCommand{})
	if len(list.Response.(model.VmListResponse).Vms) != 0 {
		t.Fatal("expected empty vm list after failed prepare")
	}
}

// Invariant #3: no leaks on vm.create failure.
func TestCreateClientCreateFailureKillsProcess(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{CreateError: "bad config"})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	if r.Err == nil || r.Err.Kind != model.KindHypervisor {
		t.Fatalf("expected Hypervisor error, got %+v", r.Err)
	}
	if backend.Tracker.Kills() != 1 {
		t.Fatalf("expected process to be killed once, got %d", backend.Tracker.Kills())
	}
	if backend.Tracker.Boots() != 0 {
		t.Fatal("boot must not run after a failed create")
	}

	list := send(t, mgr, model.ListCommand{})
	if len(list.Response.(model.VmListResponse).Vms) != 0 {
		t.Fatal("failed create must not leave a partial map entry")
	}
}

// Invariant #3: no leaks on create/boot failure.
func TestCreateBootFailureKillsProcess(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{BootError: "boom"})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	if r.Err == nil || r.Err.Kind != model.KindHypervisor {
		t.Fatalf("expected Hypervisor error, got %+v", r.Err)
	}
	if backend.Tracker.Kills() != 1 {
		t.Fatalf("expected process to be killed once, got %d", backend.Tracker.Kills())
	}

	list := send(t, mgr, model.ListCommand{})
	if len(list.Response.(model.VmListResponse).Vms) != 0 {
		t.Fatal("failed create must not leave a partial map entry")
	}
}

// S3 - Create then Delete.
func TestCreateThenDelete(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	created := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	id := created.Response.(model.VmIdResponse).Id

	deleted := send(t, mgr, model.DeleteCommand{Id: id})
	if deleted.Err != nil {
		t.Fatalf("unexpected delete error: %v", deleted.Err)
	}
	if _, ok := deleted.Response.(model.UnitResponse); !ok {
		t.Fatalf("expected UnitResponse, got %T", deleted.Response)
	}

	if backend.Tracker.Shutdowns() != 1 || backend.Tracker.Deletes() != 1 ||
		backend.Tracker.Kills() != 1 || backend.Tracker.Cleanups() != 1 {
		t.Fatalf("unexpected tracker counts after delete: %+v", backend.Tracker)
	}

	list := send(t, mgr, model.ListCommand{})
	if len(list.Response.(model.VmListResponse).Vms) != 0 {
		t.Fatal("expected empty list after delete")
	}
}

// S4 - Delete missing, and invariant #4 (idempotent cleanup).
func TestDeleteMissing(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	r := send(t, mgr, model.DeleteCommand{Id: model.VmId("no-such")})
	if r.Err == nil || r.Err.Kind != model.KindNotFound {
		t.Fatalf("expected NotFound, got %+v", r.Err)
	}

	created := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	id := created.Response.(model.VmIdResponse).Id
	send(t, mgr, model.DeleteCommand{Id: id})

	second := send(t, mgr, model.DeleteCommand{Id: id})
	if second.Err == nil || second.Err.Kind != model.KindNotFound {
		t.Fatalf("second delete of same id must be NotFound, got %+v", second.Err)
	}
}

// S5 - Worker status transitions.
func TestWorkerStatusTransitions(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	status := send(t, mgr, model.GetWorkerStatusCommand{})
	if status.Response.(model.WorkerInfoResponse).Info.RunningVmsCount != 0 {
		t.Fatal("expected 0 running vms initially")
	}

	first := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	send(t, mgr, model.CreateCommand{Spec: happySpec()})

	status = send(t, mgr, model.GetWorkerStatusCommand{})
	if got := status.Response.(model.WorkerInfoResponse).Info.RunningVmsCount; got != 2 {
		t.Fatalf("expected 2 running vms, got %d", got)
	}

	send(t, mgr, model.DeleteCommand{Id: first.Response.(model.VmIdResponse).Id})

	status = send(t, mgr, model.GetWorkerStatusCommand{})
	if got := status.Response.(model.WorkerInfoResponse).Info.RunningVmsCount; got != 1 {
		t.Fatalf("expected 1 running vm after delete, got %d", got)
	}
}

// Invariant #5: desired_hash equals the toplevel of the creating spec.
func TestListDesiredHashMatchesToplevel(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	send(t, mgr, model.CreateCommand{Spec: happySpec()})
	list := send(t, mgr, model.ListCommand{})
	vms := list.Response.(model.VmListResponse).Vms
	if len(vms) != 1 || vms[0].DesiredHash != "/store/a" {
		t.Fatalf("unexpected list: %+v", vms)
	}
}

// Invariant #2: FIFO reply ordering for sequential sends.
func TestFIFOReplyOrdering(t *testing.T) {
	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr, _ := newTestManager(t, backend)

	a := send(t, mgr, model.CreateCommand{Spec: happySpec()})
	b := send(t, mgr, model.GetWorkerStatusCommand{})
	if a.Err != nil || b.Err != nil {
		t.Fatalf("unexpected errors: %v %v", a.Err, b.Err)
	}
	if b.Response.(model.WorkerInfoResponse).Info.RunningVmsCount != 1 {
		t.Fatal("command B must observe the effect of command A, issued first")
	}
}
