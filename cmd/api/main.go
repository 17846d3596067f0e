package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loickadjiwanou/hostedhost/internal/app/migrate"
	httpx "github.com/loickadjiwanou/hostedhost/internal/http"
	"github.com/loickadjiwanou/hostedhost/internal/repository"
	"github.com/loickadjiwanou/hostedhost/internal/repository/memory"
	"github.com/loickadjiwanou/hostedhost/internal/repository/postgres"
	"github.com/loickadjiwanou/hostedhost/internal/service/archive"
	"github.com/loickadjiwanou/hostedhost/internal/service/auth"
	"github.com/loickadjiwanou/hostedhost/internal/service/build"
	"github.com/loickadjiwanou/hostedhost/internal/service/deploy"
	"github.com/loickadjiwanou/hostedhost/internal/service/ports"
	"github.com/loickadjiwanou/hostedhost/internal/service/project"
	"github.com/loickadjiwanou/hostedhost/internal/service/supervisor"
	"github.com/loickadjiwanou/hostedhost/internal/ws"
	"github.com/loickadjiwanou/hostedhost/pkg/config"
	"github.com/loickadjiwanou/hostedhost/pkg/logger"
)

type repositories interface {
	repository.UserRepository
	repository.ProjectRepository
}

func main() {
	cfg := config.LoadPanelConfig()
	log := logger.New("panel", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo repositories
	var dbHealth func(context.Context) error
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		repo = postgres.New(pool)
		dbHealth = pool.Ping
	} else {
		log.Warn("no DATABASE_URL configured, project metadata is in-memory only")
		repo = memory.New()
	}

	allocator, err := ports.NewAllocator(cfg.PortRangeMin, cfg.PortRangeMax)
	if err != nil {
		log.Error("invalid port range", "error", err)
		os.Exit(1)
	}
	pipeline, err := archive.New(cfg.SitesRoot, cfg.MaxUploadBytes, log)
	if err != nil {
		log.Error("failed to prepare sites root", "error", err)
		os.Exit(1)
	}

	runner := build.NewRunner(cfg.InstallCommand, cfg.BuildCommand, cfg.InstallTimeout, cfg.BuildTimeout, log)
	detector := supervisor.LogLineDetector{Window: cfg.ReadinessWindow, Grace: cfg.ReadinessGrace}
	sup := supervisor.New(cfg.StartCommand, detector, log)
	defer sup.StopAll()

	events := ws.NewHub()
	authSvc := auth.New(repo, log, cfg)
	projectSvc := project.New(repo, log)
	deploySvc := deploy.New(repo, pipeline, allocator, runner, sup, events, log, cfg.SitesRoot)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, deploySvc, events, limiter, dbHealth)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("panel server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("panel server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
