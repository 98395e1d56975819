package socketvmm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/vmworker/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(Config{})
	if cfg.SocketDir != DefaultSocketDir {
		t.Fatalf("SocketDir = %q, want %q", cfg.SocketDir, DefaultSocketDir)
	}
	if cfg.HypervisorBinary != DefaultHypervisorBinary {
		t.Fatalf("HypervisorBinary = %q, want %q", cfg.HypervisorBinary, DefaultHypervisorBinary)
	}
	if cfg.SocketTimeout != DefaultSocketTimeout {
		t.Fatalf("SocketTimeout = %v, want %v", cfg.SocketTimeout, DefaultSocketTimeout)
	}
}

func TestWaitForSocketZeroTimeoutFailsImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "never.sock")
	err := waitForSocket(context.Background(), path, 0)
	if err == nil {
		t.Fatal("expected immediate failure with zero timeout")
	}
}

func TestWaitForSocketSucceedsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.sock")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seeding socket file: %v", err)
	}
	if err := waitForSocket(context.Background(), path, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildConfigMapsSpecFields(t *testing.T) {
	b := New(Config{}, nil, nil, nil, nil)
	spec := &model.VmSpec{
		KernelPath:    "/store/k",
		DiskImagePath: "/store/d",
		Cmdline:       "console=ttyS0",
		CPU:           4,
		MemoryMB:      2048,
	}

	cfg := b.BuildConfig(spec).(VmConfig)
	if cfg.CPUs.BootVcpus != 4 || cfg.CPUs.MaxVcpus != 4 {
		t.Fatalf("unexpected cpu config: %+v", cfg.CPUs)
	}
	if cfg.Memory.Size != 2048*1048576 {
		t.Fatalf("unexpected memory size: %d", cfg.Memory.Size)
	}
	if len(cfg.Disks) != 1 || cfg.Disks[0].Path != "/store/d" {
		t.Fatalf("unexpected disks: %+v", cfg.Disks)
	}
	if cfg.Console.Mode != "Off" || cfg.Serial.Mode != "Null" {
		t.Fatalf("unexpected console/serial: %+v %+v", cfg.Console, cfg.Serial)
	}
	if cfg.Rng.Src != "/dev/urandom" {
		t.Fatalf("unexpected rng: %+v", cfg.Rng)
	}
}

func TestPrepareFailsOnMissingArtifact(t *testing.T) {
	b := New(Config{}, nil, nil, nil, nil)
	spec := &model.VmSpec{KernelPath: "/no/such/kernel", DiskImagePath: "/no/such/disk"}
	if err := b.Prepare(context.Background(), spec); err == nil {
		t.Fatal("expected error for missing artifacts")
	}
}

func TestPrepareSucceedsWhenArtifactsExist(t *testing.T) {
	dir := t.TempDir()
	kernel := filepath.Join(dir, "kernel")
	disk := filepath.Join(dir, "disk")
	for _, p := range []string{kernel, disk} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("writing %s: %v", p, err)
		}
	}
	b := New(Config{}, nil, nil, nil, nil)
	spec := &model.VmSpec{KernelPath: kernel, DiskImagePath: disk}
	if err := b.Prepare(context.Background(), spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
