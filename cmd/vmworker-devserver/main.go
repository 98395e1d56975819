// Command vmworker-devserver wires a mock backend (internal/vmm/vmmtest)
// behind the real adapter, for manually exercising the HTTP surface
// without a real hypervisor binary installed.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/seantiz/vmworker/internal/adapter"
	"github.com/seantiz/vmworker/internal/config"
	"github.com/seantiz/vmworker/internal/manager"
	"github.com/seantiz/vmworker/internal/vmm/vmmtest"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, "debug")

	backend := vmmtest.NewBackend(vmmtest.Config{})
	mgr := manager.New(manager.Config{WorkerId: cfg.WorkerId + "-dev"}, backend, logger, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	a := adapter.New(mgr.Inbox(), logger, nil, nil)
	logger.Info("vmworker-devserver listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, a.Router()); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}
