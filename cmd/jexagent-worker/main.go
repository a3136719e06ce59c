// JexAgent Worker — исполняет допущенные задачи.
//
// Worker:
//   - Получает задачи из очереди tasks.admitted
//   - Выполняет сценарий с эмиссией событий прогресса
//   - Публикует события в fanout-обменник для шлюзов
//   - Кооперативно реагирует на отмену задачи
//
// Worker'ы масштабируются горизонтально.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deloog/jexagent-backend/internal/config"
	"github.com/deloog/jexagent-backend/internal/mq"
	"github.com/deloog/jexagent-backend/internal/registry"
	"github.com/deloog/jexagent-backend/internal/repo"
	"github.com/deloog/jexagent-backend/internal/runner"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting jexagent-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Репозитории
	taskRepo := repo.NewTaskRepo(pool)
	eventRepo := repo.NewEventRepo(pool)

	// RabbitMQ
	mqConn, err := mq.NewConnection(cfg.MQ.URL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(mqConn); err != nil {
		logger.Error("failed to setup MQ topology", "error", err)
		os.Exit(1)
	}
	publisher := mq.NewPublisher(mqConn, logger)
	logger.Info("connected to RabbitMQ")

	// Финальные события задач эмитит сам runner (нумерация Emitter'а),
	// поэтому Notifier здесь не нужен.
	taskRegistry := registry.New(registry.Config{
		Store:  taskRepo,
		Logger: logger,
	})

	r := runner.New(runner.Config{
		Registry:  taskRegistry,
		Tasks:     taskRepo,
		Sequences: eventRepo,
		Sink:      publisher,
		Conn:      mqConn,
		Logger:    logger,
	})

	if err := r.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "db: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Даём активным задачам завершиться
	r.Stop()
	server.Close()

	logger.Info("stopped")
}
