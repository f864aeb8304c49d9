// Command server runs the Kubently fabric API: it terminates executor SSE
// streams, accepts command submissions from agent callers, fans commands out
// through Redis, and serves the admin and observability surfaces.
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

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/kubently/kubently/internal/api/middleware"
	"github.com/kubently/kubently/internal/api/rest"
	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/pkg/logger"
	"github.com/kubently/kubently/internal/pkg/tracing"
	"github.com/kubently/kubently/internal/repository"
	"github.com/kubently/kubently/internal/service"
)

const serviceName = "kubently-api"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log := logger.New(cfg.LogLevel)

	keys, err := auth.ParseKeySet(cfg.APIKeys, cfg.AdminIdentities)
	if err != nil {
		log.Error("API key set rejected", "error", err)
		return 2
	}
	if keys.Empty() {
		log.Warn("No API keys configured; agent and admin surfaces will reject every request")
	}

	shutdownTracing, err := tracing.Init(serviceName, cfg.OTLPEndpoint, cfg.TraceSampleRate)
	if err != nil {
		log.Error("Failed to initialize tracing", "endpoint", cfg.OTLPEndpoint, "error", err)
		return 1
	}
	defer shutdownTracing()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	ctx := context.Background()
	if err := pingRedis(ctx, rdb); err != nil {
		// Keep serving; readiness reports the outage and executors retry.
		log.Warn("Redis unreachable at startup", "addr", cfg.RedisAddr(), "error", err)
	} else {
		log.Info("Connected to Redis", "addr", cfg.RedisAddr(), "db", cfg.RedisDB)
	}

	repo := repository.NewRepository(rdb)
	cmdBus := bus.NewCommandBus(rdb)
	recorder := audit.NewRecorder(repo.Audit, log)

	caps, err := service.NewCapabilityService(
		repo.Capability,
		time.Duration(cfg.CapabilityTTLSeconds)*time.Second,
		cfg.MinExecutorVersion,
		log,
	)
	if err != nil {
		log.Error("Invalid capability configuration", "error", err)
		return 1
	}

	policy := service.DefaultPolicy()
	if cfg.PolicyFile != "" {
		policy, err = service.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			log.Error("Failed to load command policy", "path", cfg.PolicyFile, "error", err)
			return 1
		}
		log.Info("Loaded command policy", "path", cfg.PolicyFile)
	}

	commands := service.NewCommandService(repo, cmdBus, caps, policy, cfg, log)
	tokens := service.NewTokenService(repo.Token, caps, recorder, log)
	clusters := service.NewClusterService(repo, caps, log)
	registry := service.NewStreamRegistry()

	sampler := service.NewActivitySampler(repo, log, 0)
	sampler.Start(ctx)

	router := mux.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.Tracing,
		middleware.StructuredLog,
		middleware.Recover(log),
		middleware.SecureHeaders,
		middleware.MaxBodySize(middleware.DefaultStandardMaxBodyBytes, int64(cfg.CommandOutputCapBytes)),
	)

	h := rest.NewHandler(rest.Deps{
		Commands: commands,
		Caps:     caps,
		Tokens:   tokens,
		Clusters: clusters,
		Registry: registry,
		Bus:      cmdBus,
		Repo:     repo,
		Keys:     keys,
		Audit:    recorder,
		Config:   cfg,
	})
	rest.SetupRoutes(router, h)
	router.Handle("/metrics", middleware.MetricsAuth(cfg.MetricsToken)(promhttp.Handler())).Methods("GET")

	middleware.ValidateCORSOrigins(cfg.AllowedOrigins, log)
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key", "X-Cluster-ID", "X-Request-ID", "Last-Event-ID"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: executor streams are long-lived SSE responses.
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Fabric API listening", "addr", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			return 1
		}
	case sig := <-quit:
		log.Info("Shutting down", "signal", sig.String())

		// Drain streams first so executors reconnect to a healthy replica
		// before the listener stops accepting.
		registry.BeginDrain()
		sampler.Stop()

		shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", "error", err)
			_ = srv.Close()
		}
	}

	log.Info("Fabric API stopped")
	return 0
}

// pingRedis verifies connectivity with a bounded retry so a slow Redis
// rollout does not crash-loop the API.
func pingRedis(ctx context.Context, rdb *redis.Client) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return struct{}{}, rdb.Ping(pctx).Err()
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(10))
	return err
}
