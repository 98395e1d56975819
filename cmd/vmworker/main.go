// Command vmworker is the production entrypoint: it wires configuration,
// the default hypervisor backend, CNI networking, the log archive, the
// manager, and the HTTP adapter.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/vmworker/internal/adapter"
	"github.com/seantiz/vmworker/internal/config"
	"github.com/seantiz/vmworker/internal/history"
	"github.com/seantiz/vmworker/internal/manager"
	"github.com/seantiz/vmworker/internal/netcni"
	"github.com/seantiz/vmworker/internal/vmm/socketvmm"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	store, err := history.NewStore(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logBroker := history.NewLogBroker()

	netMgr, err := netcni.New(cfg.CNIBinDir, cfg.CNIConfigDir, logger)
	if err != nil {
		logger.Warn("CNI network manager unavailable, VMs will be spawned without networking", "error", err)
		netMgr = nil
	}

	backend := socketvmm.New(socketvmm.Config{
		SocketDir:        cfg.SocketDir,
		HypervisorBinary: cfg.HypervisorBinary,
		SocketTimeout:    cfg.SocketTimeout,
		CaptureBootLog:   true,
	}, netMgr, store, logBroker, logger)

	mgr := manager.New(manager.Config{WorkerId: cfg.WorkerId}, backend, logger, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	a := adapter.New(mgr.Inbox(), logger, store, logBroker)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: a.Router(),
	}

	go func() {
		logger.Info("vmworker listening", "addr", cfg.ListenAddr, "workerId", cfg.WorkerId)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
}
