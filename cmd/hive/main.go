// Command hive runs the hive server: the Postgres-backed aggregate store
// and its HTTP surface (the shape endpoint and the session upgrade
// endpoint).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swarmhive/internal/config"
	"swarmhive/internal/hiveapi"
	"swarmhive/internal/hivestore"
)

func main() {
	logger := log.New(os.Stdout, "hive ", log.LstdFlags|log.LUTC)

	cfg, err := config.LoadHive()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := hivestore.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	srv := hiveapi.New(st, log.New(os.Stdout, "hive api ", log.LstdFlags|log.LUTC))
	httpSrv := &http.Server{Addr: cfg.Addr, Handler: srv.Router()}

	reapCtx, cancelReap := context.WithCancel(context.Background())
	defer cancelReap()
	go reapStaleNodes(reapCtx, st, cfg.HeartbeatInterval, logger)

	go func() {
		logger.Printf("listening on %s", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Printf("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

// reapStaleNodes marks nodes offline once they miss two heartbeats,
// bulk-failing their active assignments.
func reapStaleNodes(ctx context.Context, st *hivestore.Store, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * interval)
			n, err := st.MarkStaleNodesOffline(ctx, cutoff)
			if err != nil {
				logger.Printf("stale node sweep: %v", err)
				continue
			}
			if n > 0 {
				logger.Printf("marked %d stale node(s) offline", n)
			}
		}
	}
}
