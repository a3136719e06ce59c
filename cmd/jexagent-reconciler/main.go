// JexAgent Reconciler — фоновая сверка после пути допуска.
//
// Reconciler периодически:
//   - сравнивает daily_used каждого счётчика с фактическим числом
//     заряженных задач и уменьшает завышенные значения (след
//     неудавшейся компенсации; списание и создание задачи не атомарны);
//   - публикует повторно задачи, зависшие в PENDING, чьё сообщение
//     task.admitted не дошло до MQ при допуске.
//
// Среди экземпляров выбирается лидер через pg_try_advisory_lock,
// остальные простаивают и подхватывают лидерство при падении лидера.
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
	"github.com/robfig/cron/v3"

	"github.com/deloog/jexagent-backend/internal/config"
	"github.com/deloog/jexagent-backend/internal/mq"
	"github.com/deloog/jexagent-backend/internal/reconcile"
	"github.com/deloog/jexagent-backend/internal/repo"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

const reconcileLockKey int64 = 727272

// cronParser — стандартный 5-польный cron.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting jexagent-reconciler")

	schedule, err := cronParser.Parse(cfg.Reconcile.Cron)
	if err != nil {
		logger.Error("invalid reconcile.cron", "expr", cfg.Reconcile.Cron, "error", err)
		os.Exit(1)
	}

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

	quotaRepo := repo.NewQuotaRepo(pool, cfg.Quota.DefaultDaily)
	taskRepo := repo.NewTaskRepo(pool)

	// RabbitMQ: повторная публикация зависших PENDING
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

	sweeper := reconcile.New(reconcile.Config{
		Counters:  quotaRepo,
		Tasks:     taskRepo,
		Publisher: publisher,
		Logger:    logger,
	})

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

	// цикл сверки
	go func() {
		tk := time.NewTicker(1 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", reconcileLockKey)
			}
		}()

		next := schedule.Next(time.Now())
		for {
			select {
			case t := <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", reconcileLockKey).Scan(&ok); err != nil {
						logger.Error("advisory lock", "error", err)
						continue
					}
					hasLock = ok
				}

				if !hasLock || t.Before(next) {
					continue
				}
				next = schedule.Next(t)

				if err := sweeper.Tick(ctx); err != nil {
					logger.Error("sweep failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	addr := ":8083"
	if v := os.Getenv("RECONCILER_PORT"); v != "" {
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
	server.Close()
	logger.Info("stopped")
}
