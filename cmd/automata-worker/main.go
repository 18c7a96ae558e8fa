// Automata Worker — эталонный удалённый воркер.
//
// Worker:
//   - Отвечает на NOTIFY своими зарегистрированными tasks
//   - Получает REQUEST и исполняет соответствующий Executor
//   - Публикует RUNNING/EVENT/SUCCESS/FAILURE по мере исполнения
//
// Worker не хранит состояние — рестарт теряет только tasks, которые он
// сам в этот момент исполнял; отправитель увидит их как истёкшие.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Automata/internal/mq"
	"github.com/shaiso/Automata/internal/remoteworker"
	"github.com/shaiso/Automata/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting automata-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("rabbitmq connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	registry := remoteworker.NewRegistry()
	registry.Register(remoteworker.TaskHTTP, remoteworker.NewHTTPExecutor())
	registry.Register(remoteworker.TaskDelay, remoteworker.NewDelayExecutor())
	logger.Info("registered tasks", "tasks", registry.TaskNames())

	selfUUID := os.Getenv("WORKER_UUID")
	if selfUUID == "" {
		selfUUID = uuid.New().String()
	}

	discoveryTopics := []mq.Topic{
		mq.Topic("discovery." + remoteworker.TaskHTTP),
		mq.Topic("discovery." + remoteworker.TaskDelay),
	}

	executionTimeout := 5 * time.Minute
	if v := os.Getenv("EXECUTION_TIMEOUT_SEC"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			executionTimeout = d
		}
	}

	w := remoteworker.New(remoteworker.Config{
		UUID:             selfUUID,
		DiscoveryTopics:  discoveryTopics,
		Conn:             mqConn,
		Registry:         registry,
		ExecutionTimeout: executionTimeout,
		Logger:           logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

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
	logger.Info("automata-worker stopped")
}
