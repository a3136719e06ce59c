// JexAgent API — HTTP/WebSocket шлюз.
//
// Шлюз:
//   - Принимает задачи (admission с проверкой дневной квоты)
//   - Отдаёт статус, список и журнал прогресса задач
//   - Транслирует live-прогресс подписчикам по WebSocket
//   - Публикует допущенные задачи в RabbitMQ для worker'ов
//
// Шлюзы масштабируются горизонтально: каждый экземпляр получает
// все события прогресса через fanout-обменник.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deloog/jexagent-backend/internal/admission"
	"github.com/deloog/jexagent-backend/internal/api"
	"github.com/deloog/jexagent-backend/internal/config"
	"github.com/deloog/jexagent-backend/internal/mq"
	"github.com/deloog/jexagent-backend/internal/progress"
	"github.com/deloog/jexagent-backend/internal/quota"
	"github.com/deloog/jexagent-backend/internal/registry"
	"github.com/deloog/jexagent-backend/internal/repo"
	"github.com/deloog/jexagent-backend/internal/telemetry"
	"github.com/deloog/jexagent-backend/internal/ws"
)

var startTime = time.Now()

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting jexagent-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Миграции и пул соединений
	if err := repo.Migrate(cfg.Database.URL); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Репозитории
	taskRepo := repo.NewTaskRepo(pool)
	quotaRepo := repo.NewQuotaRepo(pool, cfg.Quota.DefaultDaily)
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

	// Прогресс: durable журнал + fanout между шлюзами
	broadcaster := progress.NewBroadcaster(eventRepo, logger)
	notifier := progress.NewNotifier(broadcaster, publisher, logger)

	// Реестр задач и admission
	taskRegistry := registry.New(registry.Config{
		Store:    taskRepo,
		Notifier: notifier,
		Logger:   logger,
	})

	var quotaStore quota.Store = quotaRepo
	if !cfg.Quota.Enforce {
		logger.Warn("quota enforcement disabled")
		quotaStore = quota.Disabled(quotaStore)
	}

	controller := admission.New(admission.Config{
		Store:   quotaStore,
		Creator: taskRegistry,
		Charges: taskRepo,
		Logger:  logger,
	})

	// Consumer fanout-событий прогресса: задачи исполняются на worker'ах,
	// каждый шлюз получает копию события и доводит её до своих подписчиков.
	// Собственные события возвращаются как дубликаты журнала и отбрасываются.
	progressQueue, err := mq.DeclareProgressQueue(mqConn)
	if err != nil {
		logger.Error("failed to declare progress queue", "error", err)
		os.Exit(1)
	}
	progressConsumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue: progressQueue,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			payload, err := mq.ParsePayload[mq.ProgressPayload](&d.Message)
			if err != nil {
				return fmt.Errorf("parse progress payload: %w", mq.ErrDiscard)
			}
			return broadcaster.Publish(ctx, &payload.Event)
		},
		Prefetch: 64,
	})
	go func() {
		if err := progressConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("progress consumer stopped", "error", err)
		}
	}()

	// HTTP handler'ы
	handler := api.NewHandler(api.Config{
		Admission:   controller,
		Registry:    taskRegistry,
		TaskRepo:    taskRepo,
		Broadcaster: broadcaster,
		Publisher:   publisher,
		Logger:      logger,
	})
	wsHandler := ws.NewHandler(broadcaster, taskRepo, cfg.API.AllowedOrigins, logger)

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "db: %v", err)
			return
		}
		if !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "mq: disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux, cfg.API.AllowedOrigins)
	mux.Handle("GET /api/v1/ws", wsHandler)

	server := &http.Server{
		Addr:    cfg.API.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	progressConsumer.Stop()

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
