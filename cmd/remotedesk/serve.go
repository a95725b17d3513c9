package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remotedesk/internal/api"
	"remotedesk/internal/audit"
	"remotedesk/internal/auth"
	"remotedesk/internal/clipboard"
	"remotedesk/internal/clock"
	"remotedesk/internal/config"
	"remotedesk/internal/domain"
	"remotedesk/internal/filetransfer"
	"remotedesk/internal/logging"
	"remotedesk/internal/metrics"
	"remotedesk/internal/monitor"
	"remotedesk/internal/participant"
	"remotedesk/internal/provider"
	"remotedesk/internal/quality"
	"remotedesk/internal/ratelimit"
	"remotedesk/internal/router"
	"remotedesk/internal/session"
	"remotedesk/internal/storage"
	"remotedesk/internal/storage/localfs"
	"remotedesk/internal/storage/memory"
	"remotedesk/internal/sweeper"
	"remotedesk/internal/transport/ws"
)

const version = "0.1"

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Address = serveAddr
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)
	clk := clock.RealClock{}

	secret, err := loadSecret(cfg)
	if err != nil {
		return err
	}
	capabilities := auth.NewService(secret, clk, auth.NewMemoryRevocationStore(clk))

	store, err := chunkStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open chunk store: %w", err)
	}

	counters := metrics.NewCounters()
	pinAttempts := ratelimit.New(cfg.PIN.MaxAttempts, cfg.PIN.AttemptWindow, clk)
	registry := session.NewRegistry(clk, cfg.Session.AbsoluteTimeout, cfg.Session.TombstoneTTL)
	registry.SetAdmissionTimeout(cfg.Session.AdmitTimeout)
	lifecycle := session.NewLifecycle(registry, session.Options{
		Clock:       clk,
		Authorizer:  capabilities,
		Audit:       audit.LogSink{Logger: logger},
		Metrics:     counters,
		Logger:      logger,
		PINLength:   cfg.PIN.Length,
		PINTTL:      cfg.PIN.TTL,
		PINAttempts: pinAttempts,
	})

	// Hosts normally report monitors and take input over their own socket.
	var capture provider.Provider
	if debug {
		capture = provider.NewStub(nil)
	}

	monitors := monitor.New(registry, capture, logger)
	clip := clipboard.New(registry, clipboard.Options{
		Clock:             clk,
		Metrics:           counters,
		Logger:            logger,
		MaxBytes:          cfg.Clipboard.MaxBytes,
		CompressThreshold: cfg.Clipboard.CompressThreshold,
		HistoryLimit:      cfg.Clipboard.History,
		Defaults: domain.ClipboardConfig{
			Interval:   cfg.Clipboard.Interval,
			MaxRetries: cfg.Clipboard.MaxRetries,
			RetryDelay: cfg.Clipboard.RetryDelay,
		},
	})
	transfers := filetransfer.New(registry, filetransfer.Options{
		Clock:             clk,
		Store:             store,
		Metrics:           counters,
		Logger:            logger,
		ChunkSize:         cfg.Transfer.ChunkSize,
		MaxFileBytes:      cfg.Transfer.MaxFileBytes,
		AllowedExtensions: cfg.Transfer.AllowedExtensions,
		MaxRetries:        cfg.Transfer.MaxRetries,
		RetryDelay:        cfg.Clipboard.RetryDelay,
	})
	controller := quality.New(registry, quality.Options{
		Clock:         clk,
		Metrics:       counters,
		Logger:        logger,
		AdaptInterval: cfg.Quality.AdaptInterval,
	})
	health := quality.NewHealthMonitor(quality.MonitorOptions{Clock: clk, Metrics: counters, Logger: logger})

	lifecycle.OnTerminal(func(s domain.Session) {
		clip.Forget(s.ID)
		transfers.SessionEnded(s)
		controller.Forget(s.ID)
	})

	hub := router.New(router.Options{
		Lifecycle:    lifecycle,
		Participants: participant.New(registry, clk, logger),
		Monitors:     monitors,
		Clipboard:    clip,
		Transfers:    transfers,
		Quality:      controller,
		Health:       health,
		Provider:     capture,
		Clock:        clk,
		Metrics:      counters,
		Logger:       logger,
	})

	sockets := ws.NewHandler(ws.Options{
		Dispatcher: hub,
		Logger:     logger,
		ReadLimit:  ws.ReadLimitFor(max(cfg.Clipboard.MaxBytes, cfg.Transfer.ChunkSize)),
	})
	liveness := sweeper.NewLiveness()
	server := api.NewServer(api.Dependencies{
		Config:       cfg,
		Clock:        clk,
		Lifecycle:    lifecycle,
		Router:       hub,
		Sockets:      sockets,
		Capabilities: capabilities,
		Monitors:     monitors,
		Transfers:    transfers,
		Quality:      controller,
		Health:       health,
		Metrics:      counters,
		Liveness:     liveness,
		Logger:       logger,
		Version:      version,
	})

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweep := sweeper.New(sweeper.Options{
		Lifecycle: lifecycle,
		Transfers: transfers,
		Limiters:  append(server.Limiters(), pinAttempts),
		Clock:     clk,
		Interval:  cfg.SweepInterval,
		Logger:    logger,
		Liveness:  liveness,
		Metrics:   counters,
	})
	sweep.SweepOnce(ctx)
	sweep.Start(ctx)

	go func() {
		if err := health.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Allowlist(logger, map[string]string{"event": "health_monitor_stopped", "error": err.Error()})
		}
	}()

	logging.Allowlist(logger, map[string]string{
		"event":   "server_started",
		"version": version,
	})
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Allowlist(logger, map[string]string{"event": "server_error", "error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	clip.Close()
	return err
}

func chunkStore(cfg config.Config) (storage.ChunkStore, error) {
	if cfg.Transfer.Store == "localfs" {
		return localfs.New(filepath.Join(cfg.DataDir, "chunks"))
	}
	return memory.New(), nil
}
