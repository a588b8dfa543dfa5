package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnoller/racer/internal/app/migrate"
	"github.com/jnoller/racer/internal/builder"
	"github.com/jnoller/racer/internal/docker"
	httpx "github.com/jnoller/racer/internal/http"
	"github.com/jnoller/racer/internal/ports"
	"github.com/jnoller/racer/internal/repository/postgres"
	"github.com/jnoller/racer/internal/service/lifecycle"
	"github.com/jnoller/racer/internal/service/reconcile"
	"github.com/jnoller/racer/internal/service/status"
	"github.com/jnoller/racer/internal/source"
	"github.com/jnoller/racer/internal/workspace"
	"github.com/jnoller/racer/internal/ws"
	"github.com/jnoller/racer/pkg/config"
	"github.com/jnoller/racer/pkg/logger"
)

var version = "dev"

func main() {
	config.LoadDotEnv()
	cfg := config.LoadAPIConfig()
	log := logger.NewWithFormat(os.Stdout, "api", logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	runner, err := migrate.New(pool, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool, cfg.EnvEncryptionKey)

	dockerClient, err := docker.New(cfg.Builder.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("docker daemon unreachable at startup", "error", err)
	}

	workdir, err := workspace.New(cfg.Builder.Workdir)
	if err != nil {
		log.Error("failed to prepare workspace", "dir", cfg.Builder.Workdir, "error", err)
		os.Exit(1)
	}
	sources := source.NewResolver(workdir, cfg.Builder.GitTimeout, log)
	imageBuilder := builder.New(dockerClient, cfg.Builder.ImagePrefix, cfg.Builder.BaseImage, cfg.Builder.BuildTimeout, log)

	portOpts := ports.Options{
		Start:    cfg.PortRangeStart,
		End:      cfg.PortRangeEnd,
		Reserved: []int{cfg.APIPort()},
		LeaseTTL: cfg.PortLeaseTTL,
		Logger:   log,
	}
	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		lease, err := ports.NewRedisLease(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis port leases unavailable", "error", err)
		} else {
			defer lease.Close()
			portOpts.Lease = lease
		}
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}
	allocator, err := ports.New(repo, portOpts)
	if err != nil {
		log.Error("invalid port range", "error", err)
		os.Exit(1)
	}

	hub := ws.NewHub(log)
	manager, err := lifecycle.New(lifecycle.Deps{
		Store:   repo,
		Runtime: dockerClient,
		Builder: imageBuilder,
		Sources: sources,
		Ports:   allocator,
		Events:  hub,
	}, log, lifecycle.Config{
		RuntimeTimeout: cfg.RuntimeTimeout,
		StopGrace:      cfg.StopGracePeriod,
	})
	if err != nil {
		log.Error("failed to build lifecycle manager", "error", err)
		os.Exit(1)
	}
	statusSvc := status.New(repo, dockerClient, log, cfg.RuntimeTimeout)

	if ctrl := reconcile.New(manager, log, cfg.ReconcileInterval); ctrl != nil {
		go ctrl.Run(ctx)
	}

	router := httpx.NewRouter(log, httpx.Deps{
		Lifecycle: manager,
		Status:    statusSvc,
		Sources:   sources,
		Hub:       hub,
		Limiter:   limiter,
		Admin: httpx.AdminAuth{
			PasswordHash: cfg.AdminPasswordHash,
			JWTSecret:    cfg.AdminJWTSecret,
			TokenTTL:     cfg.AdminTokenTTL,
		},
		DBHealth:     repo.Ping,
		DockerHealth: dockerClient.Ping,
		EngineInfo:   dockerClient.Info,
		BaseImage:    cfg.Builder.BaseImage,
		Version:      version,
		PortRange:    [2]int{cfg.PortRangeStart, cfg.PortRangeEnd},
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
