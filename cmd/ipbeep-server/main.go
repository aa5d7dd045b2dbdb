package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ipbeep/attendance/internal/attend/camera"
	"github.com/ipbeep/attendance/internal/attend/match"
	"github.com/ipbeep/attendance/internal/attend/probe"
	"github.com/ipbeep/attendance/internal/attend/remote"
	"github.com/ipbeep/attendance/internal/attend/service"
	"github.com/ipbeep/attendance/internal/attend/store/ledgerfile"
	sqlitestore "github.com/ipbeep/attendance/internal/attend/store/sqlite"
	"github.com/ipbeep/attendance/internal/config"
	"github.com/ipbeep/attendance/internal/db"
	"github.com/ipbeep/attendance/internal/httpapi"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "ipbeep-server ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		logger.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if cfg.Env == "dev" {
		if err := db.SeedDev(ctx, conn); err != nil {
			logger.Fatalf("seed dev db: %v", err)
		}
	}

	writer := db.NewWorker(conn)
	defer writer.Close()

	// Stores
	registrations := sqlitestore.NewRegistrationStore(conn, writer)
	events := sqlitestore.NewEventStore(conn, writer)
	ledgerStore := ledgerfile.New(cfg.LogDir)

	// Remote collaborator (session config + archival); optional.
	var rc *remote.Client
	if cfg.RemoteBaseURL != "" {
		rc = remote.NewClient(cfg.RemoteBaseURL)
	} else {
		logger.Printf("no remote base URL configured; config fetch and archival disabled")
	}

	deps := service.Dependencies{
		Logger:        logger,
		Registrations: registrations,
		LedgerStore:   ledgerStore,
		Events:        events,
		Probe:         probe.NewIW(cfg.ProbeInterface),
		NewCamera: func() (camera.Source, error) {
			// Replay keeps the preview pipeline alive until a
			// device-backed Source is wired for this deployment.
			return camera.NewReplay(50 * time.Millisecond), nil
		},
		// Recognition stays off until an external recognizer is attached.
		Matcher: match.Disabled,
		Portal:  service.NewAuxiliary(cfg.PortalCommand, logger),
		Settings: service.Settings{
			SamplePeriod:   time.Duration(cfg.SamplePeriodSeconds) * time.Second,
			FrameSkip:      cfg.FrameSkip,
			Downscale:      cfg.DownscaleFactor,
			Cooldown:       time.Duration(cfg.CooldownSeconds) * time.Second,
			SaveInterval:   time.Duration(cfg.SaveIntervalSeconds) * time.Second,
			HandoffTimeout: time.Duration(cfg.HandoffTimeoutSeconds) * time.Second,
			SessionKey:     cfg.SessionKey,
		},
	}
	if rc != nil {
		deps.Remote = rc
		deps.Archive = rc
	}

	coordinator := service.NewCoordinator(deps)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		Coordinator:   coordinator,
		Registrations: registrations,
	})

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	coordinator.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
