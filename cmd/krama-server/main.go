// krama-server — HTTP сервер выполнения workflow.
//
// Сервер:
//   - Принимает документы workflow через API и выполняет runs
//   - Хранит runs в PostgreSQL (DB_URL) или в памяти
//   - Принимает signal и cancel из RabbitMQ (RABBITMQ_URL) и публикует события
//   - Отдаёт /healthz и /metrics
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kaushiksamanta/krama/internal/api"
	"github.com/kaushiksamanta/krama/internal/config"
	"github.com/kaushiksamanta/krama/internal/handlers"
	"github.com/kaushiksamanta/krama/internal/mq"
	"github.com/kaushiksamanta/krama/internal/orchestrator"
	"github.com/kaushiksamanta/krama/internal/repo"
	"github.com/kaushiksamanta/krama/internal/script"
	"github.com/kaushiksamanta/krama/internal/telemetry"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting krama-server")

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("krama-server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := handlers.Default(logger)
	if err != nil {
		return err
	}

	// Журнал runs
	var journal orchestrator.Journal = repo.NewMemoryJournal()
	if cfg.DatabaseURL != "" {
		pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := repo.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		journal = repo.NewRunRepo(pool)
		logger.Info("database connected")
	} else {
		logger.Warn("DB_URL not set, runs are kept in memory")
	}

	// RabbitMQ: события и управляющая очередь
	var events orchestrator.EventPublisher
	var conn *mq.Connection
	if cfg.RabbitMQURL != "" {
		conn, err = mq.Dial(cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer conn.Close()

		if err := mq.SetupTopology(ctx, conn); err != nil {
			return err
		}
		events = orchestrator.NewMQEvents(mq.NewPublisher(conn, logger))
		logger.Info("RabbitMQ connected", "topology", mq.TopologyInfo())
	}

	rt := orchestrator.New(orchestrator.Config{
		Registry: registry,
		Scripts:  script.New(script.Config{Logger: logger}),
		Defaults: cfg.Substrate(),
		Journal:  journal,
		Events:   events,
		Observer: telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if conn != nil && !conn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "broker disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s active_runs=%d", time.Since(startTime), rt.ActiveRunsCount())
	})
	mux.Handle("/metrics", promhttp.Handler())
	api.NewHandler(api.Config{Runtime: rt, Registry: registry, Logger: logger}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if conn != nil {
		consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
			Queue:   mq.QueueControl,
			Handler: rt.HandleControl,
		})
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("control consumer: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown: сначала HTTP, затем активные runs
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := rt.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop runtime: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
