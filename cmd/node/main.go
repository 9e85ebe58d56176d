// Command node runs a swarm node: the local store, the legacy log
// migrator, the session peer to the hive, the sync engine, the approval
// service, and a small local HTTP shim for approvals.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"swarmhive/internal/approval"
	"swarmhive/internal/config"
	"swarmhive/internal/logmigrate"
	"swarmhive/internal/node"
	"swarmhive/internal/nodeapi"
	"swarmhive/internal/store"
	syncengine "swarmhive/internal/sync"
	"swarmhive/internal/wire"
)

func main() {
	logger := log.New(os.Stdout, "node ", log.LstdFlags|log.LUTC)

	cfg, err := config.LoadNode()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := logmigrate.New(st, log.New(os.Stdout, "node logmigrate ", log.LstdFlags|log.LUTC)).Run(ctx); err != nil {
		logger.Printf("legacy log migration: %v", err)
	}

	approvals := approval.New(st)
	handler := newTaskHandler(st, approvals, log.New(os.Stdout, "node handler ", log.LstdFlags|log.LUTC))
	status := &statusTracker{maxTasks: cfg.MaxConcurrentTasks, store: st}

	peer := node.New(node.Config{
		HiveURL:   cfg.HiveURL,
		APIKey:    cfg.HiveAPIKey,
		MachineID: cfg.MachineID,
		Name:      cfg.Name,
		PublicURL: cfg.PublicURL,
		Capabilities: wire.Capabilities{
			Executors:          []string{"claude", "copilot", "opencode", "acp"},
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
			OS:                 runtime.GOOS,
			Arch:               runtime.GOARCH,
			Version:            "dev",
		},
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, handler, status, log.New(os.Stdout, "node peer ", log.LstdFlags|log.LUTC))
	handler.setPeer(peer)

	engine := syncengine.New(st, peer, cfg.SyncInterval, log.New(os.Stdout, "node sync ", log.LstdFlags|log.LUTC))

	api := nodeapi.New(approvals, log.New(os.Stdout, "node api ", log.LstdFlags|log.LUTC))
	httpSrv := &http.Server{Addr: cfg.LocalAddr, Handler: api.Router()}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); peer.Run(ctx) }()
	go func() { defer wg.Done(); engine.Run(ctx) }()

	if cfg.ShapeBaseURL != "" {
		labels := newLabelShapeConsumer(cfg.ShapeBaseURL, st, log.New(os.Stdout, "node shape[labels] ", log.LstdFlags|log.LUTC))
		wg.Add(1)
		go func() { defer wg.Done(); _ = labels.Run(ctx) }()
	} else {
		logger.Printf("shape consumer disabled: HIVE_SHAPE_BASE_URL not set")
	}

	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("local api: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Printf("shutting down")
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	wg.Wait()
}
