package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	sqlitestore "github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/config"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/db"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/healthsrv"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/logger"
)

const pruneInterval = 6 * time.Hour

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		boot.Fatal().Err(err).Msg("init logger")
	}

	log = log.With().Str("service", "acsbridge").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		stop()
		log.Fatal().Err(err).Msg("acsbridge stopped")
	}
}

// run returns instead of exiting so the database and writer always close.
func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	// Stores
	deviceStore := sqlitestore.NewDeviceStore(conn, writer)
	eventStore := sqlitestore.NewAccessEventStore(conn, writer)
	cursorStore := sqlitestore.NewCursorStore(conn, writer)

	// Devices
	registry := service.NewDeviceRegistry(deviceStore, isapi.ClientConfig{
		ResetPolicy:   cfg.ResetPolicy(),
		UserScanLimit: cfg.UserScanLimit,
	}, logger.WithComponent(log, "isapi"))

	for _, d := range cfg.Devices {
		spec := service.DeviceSpec{ID: d.ID, Name: d.DisplayName(), Device: d.ISAPIDevice()}
		if err := registry.Register(ctx, spec); err != nil {
			return fmt.Errorf("register device %s: %w", d.ID, err)
		}
	}

	if len(cfg.Devices) == 0 {
		log.Warn().Msg("no devices configured")
	}

	// Services
	health := healthsrv.New(cfg.GRPCAddr, logger.WithComponent(log, "grpc"))

	monitor := service.NewHealthMonitor(registry, deviceStore, health, cfg.Sync.Concurrency,
		logger.WithComponent(log, "health"))

	syncSvc := service.NewSyncService(registry, eventStore, cursorStore, service.SyncConfig{
		PageSize:    cfg.Sync.PageSize,
		MaxPages:    cfg.Sync.MaxPages,
		Lookback:    cfg.Sync.Lookback,
		Concurrency: cfg.Sync.Concurrency,
		Mode:        cfg.SyncMode(),
	}, logger.WithComponent(log, "sync"))

	pruner := service.NewEventPruner(eventStore, cfg.Sync.RetentionDays, logger.WithComponent(log, "prune"))

	sched := service.NewScheduler(logger.WithComponent(log, "scheduler"),
		monitor.Job(cfg.Health.Interval),
		syncSvc.Job(cfg.Sync.Interval),
		pruner.Job(pruneInterval),
	)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:    logger.WithComponent(log, "http"),
		Addr:      cfg.HTTPAddr,
		Registry:  registry,
		Provision: service.NewProvisionService(registry, logger.WithComponent(log, "provision")),
		Sync:      syncSvc,
		Health:    monitor,
		Events:    eventStore,
	})

	go func() {
		if err := health.Start(); err != nil {
			log.Error().Err(err).Msg("grpc server error")
			stop()
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("env", cfg.Env).Int("devices", len(cfg.Devices)).Msg("listening")

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	sched.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	sched.Stop()
	health.Stop(shutdownCtx)

	return nil
}
