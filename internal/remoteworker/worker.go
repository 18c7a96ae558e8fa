package remoteworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Automata/internal/mq"
)

const defaultExecutionTimeout = 5 * time.Minute

// Config — конфигурация Worker.
type Config struct {
	// UUID — собственная тема участника (reply_to для RUNNING/EVENT/SUCCESS/
	// FAILURE и точка привязки входящих REQUEST).
	UUID string

	// DiscoveryTopics — темы обнаружения, на которых этот воркер отвечает
	// на NOTIFY-пробы (аналог topics subscription у обычного consumer).
	DiscoveryTopics []mq.Topic

	// Conn — открытое соединение с шиной.
	Conn *mq.Connection

	// Registry — executor'ы по task_name (опционально; если nil —
	// используется NewRegistry() без зарегистрированных task).
	Registry *Registry

	// ExecutionTimeout — таймаут одного выполнения Execute (default: 5m).
	ExecutionTimeout time.Duration

	// Retry — политика retry для Publish (default: mq.DefaultRetryOptions()).
	Retry mq.RetryOptions

	Logger *slog.Logger
}

// Worker — эталонный удалённый воркер: объявляет поддерживаемые tasks через
// NOTIFY_RESPONSE и исполняет REQUEST, адресованные его теме.
type Worker struct {
	proxy            *mq.Proxy
	registry         *Registry
	executionTimeout time.Duration
	logger           *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	executionTimeout := cfg.ExecutionTimeout
	if executionTimeout <= 0 {
		executionTimeout = defaultExecutionTimeout
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = mq.DefaultRetryOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		registry:         registry,
		executionTimeout: executionTimeout,
		logger:           logger,
	}

	handlers := map[mq.MessageType]mq.TypeHandler{
		mq.TypeNotify:  w.handleNotify,
		mq.TypeRequest: w.handleRequest,
	}
	w.proxy = mq.NewProxy(cfg.UUID, string(mq.ExchangeRPC), cfg.DiscoveryTopics, handlers, nil, cfg.Conn, logger, retry)

	return w
}

// Start поднимает Proxy и блокируется до готовности приёма сообщений.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker", "tasks", w.registry.TaskNames())

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.proxy.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("proxy loop exited with error", "error", err)
		}
	}()

	w.proxy.Wait()
	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.proxy.Stop()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// handleNotify отвечает на пробу executor'а своим списком task_name.
func (w *Worker) handleNotify(ctx context.Context, env *mq.Envelope) {
	replyTo := mq.Topic(env.ReplyTo)
	if replyTo == "" {
		w.logger.Warn("notify without reply_to, dropping")
		return
	}

	body := map[string]any{
		"topic": string(w.proxy.Topic()),
		"tasks": w.registry.TaskNames(),
	}
	if err := w.proxy.Publish(ctx, mq.TypeNotifyResponse, replyTo, w.proxy.Topic(), "", body); err != nil {
		w.logger.Warn("notify_response publish failed", "error", err)
	}
}

// handleRequest выполняет task, полученный в REQUEST: подтверждает начало
// RUNNING, исполняет через Registry и публикует терминальный RESPONSE.
func (w *Worker) handleRequest(ctx context.Context, env *mq.Envelope) {
	replyTo := mq.Topic(env.ReplyTo)
	correlationID := env.CorrelationID
	if replyTo == "" || correlationID == "" {
		w.logger.Warn("request without reply_to/correlation_id, dropping")
		return
	}

	body, err := mq.DecodeBody[mq.RequestBody](env.Body)
	if err != nil {
		w.logger.Warn("malformed request body", "correlation_id", correlationID, "error", err)
		w.respondFailure(ctx, replyTo, correlationID, map[string]any{"failure": map[string]any{"error": "malformed request"}})
		return
	}

	w.respondRunning(ctx, replyTo, correlationID)

	executor, err := w.registry.Get(body.TaskName)
	if err != nil {
		w.logger.Warn("no executor for task", "task_name", body.TaskName, "correlation_id", correlationID)
		w.respondFailure(ctx, replyTo, correlationID, map[string]any{"failure": map[string]any{"error": err.Error()}})
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.executionTimeout)
	defer cancel()

	progress := func(eventType string, details map[string]any) {
		data := map[string]any{"event_type": eventType, "details": details}
		if err := w.proxy.Publish(ctx, mq.TypeResponse, replyTo, w.proxy.Topic(), correlationID, map[string]any{
			"state": string(mq.ResponseEvent),
			"data":  data,
		}); err != nil {
			w.logger.Debug("event publish failed", "correlation_id", correlationID, "error", err)
		}
	}

	result, err := executor.Execute(execCtx, &ExecutionRequest{
		TaskUUID:  body.TaskUUID,
		Action:    body.Action,
		Arguments: body.Arguments,
		Result:    body.Result,
		Failures:  body.Failures,
	}, progress)

	if err != nil {
		w.logger.Warn("task execution failed", "task_name", body.TaskName, "correlation_id", correlationID, "error", err)
		w.respondFailure(ctx, replyTo, correlationID, map[string]any{"failure": map[string]any{"error": err.Error()}})
		return
	}

	if result.Failure != nil {
		w.respondFailure(ctx, replyTo, correlationID, map[string]any{"failure": result.Failure})
		return
	}

	w.respondSuccess(ctx, replyTo, correlationID, result.Result)
}

func (w *Worker) respondRunning(ctx context.Context, replyTo mq.Topic, correlationID string) {
	if err := w.proxy.Publish(ctx, mq.TypeResponse, replyTo, w.proxy.Topic(), correlationID, map[string]any{
		"state": string(mq.ResponseRunning),
		"data":  map[string]any{},
	}); err != nil {
		w.logger.Warn("running response publish failed", "correlation_id", correlationID, "error", err)
	}
}

func (w *Worker) respondSuccess(ctx context.Context, replyTo mq.Topic, correlationID string, result any) {
	if err := w.proxy.Publish(ctx, mq.TypeResponse, replyTo, w.proxy.Topic(), correlationID, map[string]any{
		"state": string(mq.ResponseSuccess),
		"data":  map[string]any{"result": result},
	}); err != nil {
		w.logger.Warn("success response publish failed", "correlation_id", correlationID, "error", err)
	}
}

func (w *Worker) respondFailure(ctx context.Context, replyTo mq.Topic, correlationID string, data map[string]any) {
	if err := w.proxy.Publish(ctx, mq.TypeResponse, replyTo, w.proxy.Topic(), correlationID, map[string]any{
		"state": string(mq.ResponseFailure),
		"data":  data,
	}); err != nil {
		w.logger.Warn("failure response publish failed", "correlation_id", correlationID, "error", err)
	}
}
