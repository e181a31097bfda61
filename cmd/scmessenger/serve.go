package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scmessenger/core/internal/health"
	"github.com/scmessenger/core/internal/logger"
	"github.com/scmessenger/core/internal/metrics"
)

const (
	outboxWarnDepth = 200
	outboxFailDepth = 1000
)

var serveListenAddr string
var serveHealthAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node's mesh service as a headless relay",
	Long: `serve brings up MeshService over the default Internet overlay and
blocks until interrupted, for a headless relay node. It also exposes a
Prometheus /metrics endpoint (when metrics.enabled is set) and a
/healthz JSON status endpoint on its own listener.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "mesh listen multiaddr override")
	serveCmd.Flags().StringVar(&serveHealthAddr, "health-addr", ":8090", "address the /healthz endpoint binds to")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.Mesh.ListenMultiaddr = serveListenAddr
	}

	core, err := openCoreFromConfig(cfg)
	if err != nil {
		return err
	}

	log := logger.GetDefaultLogger()

	checker := health.NewChecker(0)
	checker.RegisterCheck("identity", func(ctx context.Context) error {
		_, err := core.GetIdentityInfo()
		return err
	})
	checker.RegisterCheck("delivery_backlog", health.DeliveryBacklogCheck(core.PendingOutboxDepth, outboxWarnDepth, outboxFailDepth))

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := struct {
			State  string                `json:"state"`
			Health *health.SystemHealth  `json:"health"`
			Stats  map[string]interface{} `json:"stats"`
		}{
			State:  core.GetState().String(),
			Health: checker.GetSystemHealth(r.Context()),
		}
		stats := core.GetStats()
		snapshot.Stats = map[string]interface{}{
			"peers_discovered":   stats.PeersDiscovered,
			"peers_identified":   stats.PeersIdentified,
			"peers_disconnected": stats.PeersDisconnected,
			"messages_received":  stats.MessagesReceived,
			"receipts_received":  stats.ReceiptsReceived,
			"pending_outbox":     core.PendingOutboxDepth(),
		}

		w.Header().Set("Content-Type", "application/json")
		if snapshot.Health.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	healthServer := &http.Server{
		Addr:              serveHealthAddr,
		Handler:           healthMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("serve: health endpoint listening", logger.String("addr", serveHealthAddr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("serve: health endpoint failed", logger.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		go func() {
			log.Info("serve: metrics endpoint listening", logger.String("addr", metricsAddr))
			if err := metrics.StartServer(metricsAddr); err != nil && err != http.ErrServerClosed {
				log.Error("serve: metrics endpoint failed", logger.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("start mesh service: %w", err)
	}
	log.Info("serve: mesh service running", logger.String("listen", cfg.Mesh.ListenMultiaddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("serve: shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := core.Stop(stopCtx); err != nil {
		log.Error("serve: mesh stop error", logger.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = healthServer.Shutdown(shutdownCtx)

	return nil
}
