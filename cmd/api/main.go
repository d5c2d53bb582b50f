package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vet-practice-records/internal/adapters/activity/redisstream"
	"vet-practice-records/internal/adapters/auth/jwtauth"
	"vet-practice-records/internal/adapters/auth/odin"
	pg "vet-practice-records/internal/adapters/storage/postgres"
	"vet-practice-records/internal/domain/activity"
	"vet-practice-records/internal/platform/config"
	"vet-practice-records/internal/platform/logger"
	"vet-practice-records/internal/platform/metrics"
	"vet-practice-records/internal/ports/auth"
	"vet-practice-records/internal/router"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// @title Vet Practice Records API
// @version 1.0
// @description Historias clínicas multi-organización para clínicas veterinarias.
// @BasePath /
func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
		File:   cfg.LogFile,
	})
	defer logger.Sync(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", map[string]any{"error": err.Error()})
		logger.Sync(log)
		os.Exit(1)
	}
}

func run(cfg config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	var db *sql.DB
	if cfg.DBDSN != "" {
		db, err = pg.Open(ctx, cfg.DBDSN, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := pg.Migrate(ctx, db); err != nil {
			return err
		}
	} else {
		log.Warn("DB_DSN not set, using in-memory storage", nil)
	}

	var sink activity.Sink
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		sink = redisstream.NewSink(rdb, cfg.ActivityStream, 0)
	}

	r := router.NewRouter(router.Options{
		AuthVerifier:      verifier,
		DB:                db,
		Logger:            log,
		Metrics:           metrics.New(),
		ActivitySink:      sink,
		MasterAdminEmails: cfg.MasterAdminEmails,
		InvitationTTL:     cfg.InvitationTTL,
		ActivityTimeout:   cfg.ActivityTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", map[string]any{"addr": srv.Addr, "auth_mode": string(cfg.AuthMode)})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newVerifier: nil en modo dev (headers X-Debug-*).
func newVerifier(cfg config.Config) (auth.AuthVerifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeDev, "":
		return nil, nil
	case config.AuthModeJWT:
		v, err := jwtauth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		return v, nil
	case config.AuthModeOdin:
		c, err := odin.NewClient(odin.Config{BaseURL: cfg.OdinURL, APIKey: cfg.OdinAPIKey, Timeout: 5 * time.Second, MaxRetries: 2})
		if err != nil {
			return nil, err
		}
		return odin.NewVerifier(c), nil
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
	}
}
