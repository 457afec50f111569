package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glimte/docflow/api"
	"github.com/glimte/docflow/catalog"
	"github.com/glimte/docflow/config"
	"github.com/glimte/docflow/health"
	"github.com/glimte/docflow/internal/observability"
	storeredis "github.com/glimte/docflow/stores/redis"
	transport "github.com/glimte/docflow/transports/rabbitmq"
	"github.com/glimte/docflow/workflow"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log, os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration (DOCFLOW_* variables override it)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Tracing.Endpoint != "" {
		shutdown, err := observability.InitTracer(ctx, cfg.Tracing.ServiceName, version, cfg.Tracing.Endpoint, cfg.Tracing.SampleRatio)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	client, err := storeredis.NewClient(ctx, storeredis.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	store := storeredis.NewEnvelopeStore(client,
		storeredis.WithKeyPrefix(cfg.Redis.KeyPrefix),
		storeredis.WithTTL(cfg.Redis.TTL),
		storeredis.WithLogger(logger))

	registry := health.NewRegistry(version)
	registry.Add(health.NewRedisChecker(store), health.Critical)
	registry.Add(health.NewGoroutineChecker(5000, 20000), health.Optional)

	engineOpts := []workflow.EngineOption{workflow.WithLogger(logger)}
	if cfg.RabbitMQ.URL != "" {
		t, err := transport.NewTransport(ctx, cfg.RabbitMQ.URL,
			transport.WithEventsExchange(cfg.RabbitMQ.Exchange),
			transport.WithAuditQueue(cfg.RabbitMQ.AuditQueue),
			transport.WithTransportLogger(logger))
		if err != nil {
			return err
		}
		defer t.Close()

		engineOpts = append(engineOpts, workflow.WithEventPublisher(t.Events()))
		registry.Add(health.NewRabbitMQChecker(t.Manager(), cfg.RabbitMQ.Exchange), health.Optional)
		registry.Add(health.NewBreakerChecker("event_publisher", t.Events().BreakerState), health.Optional)
	} else {
		logger.Info("rabbitmq url not set, transition events are disabled")
	}

	engine, err := workflow.NewEngine(store, engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		// runs before the transport closes so queued events still go out
		ectx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := engine.Close(ectx); err != nil {
			logger.Warn("pending workflow events not flushed", "error", err)
		}
	}()

	router := mux.NewRouter()
	api.NewServer(engine, cat, api.WithLogger(logger)).Register(router)
	router.Handle("/healthz", health.ReportHandler(registry, 5*time.Second)).Methods(http.MethodGet)
	router.Handle("/readyz", health.ReadinessHandler(registry, 5*time.Second)).Methods(http.MethodGet)
	router.Handle("/livez", health.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("docflowd listening", "addr", cfg.HTTP.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
