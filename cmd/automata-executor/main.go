// Automata Executor — клиентский процесс, который ставит tasks на
// исполнение удалённым воркерам через шину и отслеживает их исходы.
//
// Executor:
//   - Рассылает NOTIFY по темам обнаружения, собирая живые tasks воркеров
//   - Распределяет REQUEST по стабильному hash от task uuid
//   - Отслеживает таймауты через Maintenance Tick
//   - Пишет терминальные исходы в audit_log, если указан DB_URL
//
// Сам по себе automata-executor не исполняет никакую бизнес-логику —
// это библиотечный Facade (internal/executor), обёрнутый в процесс с
// healthz/metrics для встраивания в кластер как сервис.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Automata/internal/executor"
	"github.com/shaiso/Automata/internal/mq"
	"github.com/shaiso/Automata/internal/repo"
	"github.com/shaiso/Automata/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting automata-executor")

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

	// audit_log — опционален: без DB_URL executor работает, просто не
	// сохраняя терминальные исходы за пределами Promise вызывающей стороны.
	var audit executor.AuditRecorder
	if os.Getenv("DB_URL") != "" {
		pool, err := repo.NewPool(ctx)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected, audit logging enabled")
		audit = repo.NewAuditRepo(pool, logger)
	} else {
		logger.Info("DB_URL not set, audit logging disabled")
	}

	selfUUID := os.Getenv("EXECUTOR_UUID")
	if selfUUID == "" {
		selfUUID = uuid.New().String()
	}

	topics := parseTopics(os.Getenv("DISCOVERY_TOPICS"))
	if len(topics) == 0 {
		topics = []mq.Topic{"discovery.http_call", "discovery.delay"}
	}

	e := executor.New(executor.Config{
		UUID:      selfUUID,
		Topics:    topics,
		Conn:      mqConn,
		AuditRepo: audit,
		Logger:    logger,
	})

	go func() {
		if err := e.Start(ctx); err != nil {
			logger.Error("executor stopped with error", "error", err)
			cancel()
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("EXECUTOR_PORT"); v != "" {
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

	e.Stop()
	logger.Info("automata-executor stopped")
}

func parseTopics(raw string) []mq.Topic {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	topics := make([]mq.Topic, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			topics = append(topics, mq.Topic(p))
		}
	}
	return topics
}
