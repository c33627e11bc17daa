package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/agentlog/internal/config"
	"github.com/alfredjeanlab/agentlog/internal/events"
	"github.com/alfredjeanlab/agentlog/internal/eventstore"
	"github.com/alfredjeanlab/agentlog/internal/presence"
	"github.com/alfredjeanlab/agentlog/internal/server"
	agentsync "github.com/alfredjeanlab/agentlog/internal/sync"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Start the agentlog HTTP server",
		GroupID: "system",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger

			// Fan committed events out to NATS when configured.
			var (
				publisher events.Publisher = &events.NoopPublisher{}
				forwarder *events.Forwarder
			)
			if cfg.NATSURL != "" {
				pub, err := events.NewNATSPublisher(cfg.NATSURL)
				if err != nil {
					return err
				}
				publisher = pub
				forwarder = events.NewForwarder(a.store, pub, logger)
				logger.Info("events enabled", "nats_url", cfg.NATSURL)
			} else {
				logger.Info("events disabled (AGENTLOG_NATS_URL not set)")
			}

			scheduler := startSync(cmd.Context(), cfg, a, logger)

			// Seed the roster before any request can append so no event is
			// counted twice, then follow live commits.
			tracker := presence.New(logger)
			if err := tracker.Backfill(cmd.Context(), a.store); err != nil {
				logger.Warn("agent roster backfill failed", "err", err)
			}
			rosterSub := a.store.Subscribe(eventstore.AllPartitions, tracker.Observe)
			tracker.StartReaper(presence.ReaperConfig{})

			// Streams watch baseCtx so Shutdown does not wait on them.
			baseCtx, cancelBase := context.WithCancel(context.Background())
			defer cancelBase()
			httpServer := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           server.New(a.store, logger, server.WithRoster(tracker)).NewHTTPHandler(cfg.AuthToken),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return baseCtx },
			}
			go func() {
				logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", "err", err)
				}
			}()

			logger.Info("agentlog server started",
				"http_addr", cfg.HTTPAddr,
				"database", backendKind(cfg.DatabaseURL),
				"snapshot_threshold", cfg.SnapshotThreshold,
			)

			// Wait for SIGINT or SIGTERM.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				logger.Info("received signal, shutting down", "signal", sig)
			case <-cmd.Context().Done():
				logger.Info("context canceled, shutting down")
			}

			// Graceful shutdown.
			cancelBase()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			logger.Info("HTTP server stopped")

			if scheduler != nil {
				scheduler.Stop()
				logger.Info("sync scheduler stopped")
			}
			a.store.Unsubscribe(rosterSub)
			tracker.Stop()
			if forwarder != nil {
				forwarder.Stop()
			}
			if err := publisher.Close(); err != nil {
				logger.Error("error closing publisher", "err", err)
			}

			logger.Info("shutdown complete")
			return nil
		},
	}
}

// startSync builds the configured export destinations and starts the
// scheduler. It returns nil when no destination is configured.
func startSync(ctx context.Context, cfg *config.Config, a *app, logger *slog.Logger) *agentsync.Scheduler {
	if !cfg.SyncEnabled() {
		return nil
	}
	var dests []agentsync.Destination

	if cfg.SyncFile != "" {
		dests = append(dests, agentsync.NewFileDestination(cfg.SyncFile))
		logger.Info("sync file destination enabled", "path", cfg.SyncFile)
	}
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := agentsync.NewS3Destination(ctx, agentsync.S3Config{
			Bucket:   cfg.SyncS3Bucket,
			Key:      cfg.SyncS3Key,
			Region:   cfg.SyncS3Region,
			Endpoint: cfg.SyncS3Endpoint,
		})
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, agentsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}

	scheduler := agentsync.NewScheduler(a.backend, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

func backendKind(databaseURL string) string {
	kind, _, err := config.ParseDatabaseURL(databaseURL)
	if err != nil {
		return "unknown"
	}
	return kind
}
