// megs-worker — выполняет tasks одного ресурсного класса.
//
// Worker:
//   - Читает очередь tasks.ready.<tier> (WORKER_TIER=light|heavy)
//   - Запускает kaiju, kaiju2table, kaiju2krona и ktImportText
//   - Повторяет неудачные шаги по RetryPolicy run'а
//   - Публикует task.completed
//
// HEAVY-воркеры держат kaiju-индекс и масштабируются отдельно от LIGHT.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/mq"
	"github.com/shaiso/megs/internal/repo"
	"github.com/shaiso/megs/internal/steps"
	"github.com/shaiso/megs/internal/telemetry"
	"github.com/shaiso/megs/internal/worker"
)

func main() {
	logger := telemetry.SetupLogger()

	tier := domain.TierLight
	if v := os.Getenv("WORKER_TIER"); v != "" {
		parsed, err := domain.ParseResourceTier(v)
		if err != nil {
			logger.Error("invalid WORKER_TIER", "error", err)
			os.Exit(1)
		}
		tier = parsed
	}
	logger = logger.With("tier", tier)
	logger.Info("starting megs-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	workDir := os.Getenv("MEGS_WORKDIR")
	if workDir == "" {
		workDir = "/tmp/megs"
	}
	namespace := os.Getenv("MEGS_NAMESPACE")
	if namespace == "" {
		namespace = steps.DefaultNamespace
	}

	toolkit := steps.NewToolkit(steps.NewExecRunner(), steps.NewLayout(workDir, namespace))

	cfg := worker.Config{
		Tier:     tier,
		TaskRepo: repo.NewTaskRepo(pool),
		RunRepo:  repo.NewRunRepo(pool),
		Registry: worker.NewRegistry(steps.DefaultRegistry(toolkit)),
		Logger:   logger,
	}

	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger, mq.WithName(mq.ServiceName("megs-worker", tier.Queue())))
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		cfg.Publisher = mq.NewPublisher(mqConn, logger)
		cfg.Conn = mqConn
	}

	w := worker.New(cfg)

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()
	logger.Info("megs-worker stopped")
}
