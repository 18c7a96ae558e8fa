package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/discovery"
	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/mq"
	"github.com/shaiso/Automata/internal/telemetry"
)

// AuditRecorder записывает терминальный исход запроса во внешнее хранилище.
// Реализуется *repo.AuditRepo; выделено в интерфейс ради тестируемости и
// чтобы Executor не зависел от конкретного драйвера БД.
type AuditRecorder interface {
	Record(ctx context.Context, req *domain.Request, outcome domain.Outcome)
}

// Executor — фасад клиентского движка диспетчеризации: связывает Request
// Registry, Response Dispatcher, Maintenance Tick, Worker Finder и
// транспортный Proxy в единый жизненный цикл. Форма Config/New/Start/Stop
// повторяет Worker/Orchestrator, но управляемое состояние — Request, а не
// run/task в БД.
type Executor struct {
	uuid              string
	topics            []mq.Topic
	transitionTimeout time.Duration
	tickInterval      time.Duration

	registry   *Registry
	dispatcher *Dispatcher
	tick       *Tick
	finder     *discovery.Finder
	proxy      *mq.Proxy
	audit      AuditRecorder
	logger     *slog.Logger

	runCtx     context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	stopped    bool
	stoppedMu  sync.RWMutex

	lastProbeMu sync.Mutex
	lastProbe   time.Time
	lastTickMu  sync.Mutex
	lastTick    time.Time
}

// New создаёт Executor. Обработчики RESPONSE/NOTIFY_RESPONSE замыкаются на
// сам Executor (e.handleResponse/e.handleNotifyResponse), потому что Proxy,
// Dispatcher и Finder иначе ссылались бы друг на друга циклически; поля
// e.dispatcher/e.finder заполняются ниже, до того как Proxy реально
// запустится, так что к моменту первого вызова эти замыкания безопасны.
func New(cfg Config) *Executor {
	transitionTimeout := cfg.TransitionTimeout
	if transitionTimeout <= 0 {
		transitionTimeout = defaultTransitionTimeout
	}
	probePeriod := cfg.ProbePeriod
	if probePeriod <= 0 {
		probePeriod = defaultProbePeriod
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = mq.DefaultRetryOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		uuid:              cfg.UUID,
		topics:            cfg.Topics,
		transitionTimeout: transitionTimeout,
		tickInterval:      tickInterval,
		audit:             cfg.AuditRepo,
		logger:            logger,
	}

	e.registry = NewRegistry()

	handlers := map[mq.MessageType]mq.TypeHandler{
		mq.TypeNotifyResponse: e.handleNotifyResponse,
		mq.TypeResponse:       e.handleResponse,
	}
	e.proxy = mq.NewProxy(cfg.UUID, string(mq.ExchangeRPC), nil, handlers, e.onWait, cfg.Conn, logger, retry)

	e.finder = discovery.New(discovery.Config{
		OwnTopic:    mq.Topic(cfg.UUID),
		Topics:      cfg.Topics,
		Proxy:       e.proxy,
		Logger:      logger,
		ProbePeriod: probePeriod,
		StaleAfter:  staleAfter,
	})

	e.dispatcher = newDispatcher(e.registry, e.finalize, logger)
	e.tick = newTick(e.registry, e.finder, e.publishRequest, e.finalize, logger)

	return e
}

// Start объявляет топологию, поднимает Proxy и блокируется до готовности
// приёма сообщений.
func (e *Executor) Start(ctx context.Context) error {
	e.stoppedMu.Lock()
	if e.stopped || e.started {
		e.stoppedMu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.stoppedMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel
	e.runCtx = ctx

	e.logger.Info("starting executor", "uuid", e.uuid, "topics", e.topics)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.proxy.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("proxy loop exited with error", "error", err)
		}
	}()

	e.proxy.Wait()
	e.logger.Info("executor started")
	return nil
}

// Stop останавливает приём, ждёт завершения внутренних горутин и проваливает
// все ещё не завершённые запросы с RequestTimeoutError — переживших Stop
// запросов не бывает, вызывающая сторона не может ждать ответ от процесса,
// который только что остановился.
func (e *Executor) Stop() {
	e.stoppedMu.Lock()
	e.stopped = true
	e.stoppedMu.Unlock()

	e.logger.Info("stopping executor...")

	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.proxy.Stop()
	e.wg.Wait()

	for _, id := range e.registry.Snapshot() {
		req, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		if !req.Transition(domain.StateFailure) {
			continue
		}
		e.registry.Remove(id)

		waited := time.Since(req.CreatedAt)
		e.finalize(req, domain.Outcome{
			Err: &domain.RequestTimeoutError{
				RequestUUID: req.UUID.String(),
				Waited:      waited,
				StatesSeen:  req.StatePath(),
			},
		})
	}

	e.finder.Clear()
	e.logger.Info("executor stopped")
}

// ExecuteTask отправляет task воркеру для исполнения (action=execute).
// Если подходящий воркер уже известен, REQUEST публикуется немедленно;
// иначе запрос остаётся WAITING и будет подхвачен ближайшим Maintenance
// Tick, когда воркер объявится. progress, если не nil, вызывается
// синхронно на каждое промежуточное EVENT-сообщение.
func (e *Executor) ExecuteTask(ctx context.Context, taskName string, id uuid.UUID, arguments map[string]any, progress domain.ProgressFunc) *domain.Promise {
	return e.submit(ctx, taskName, id, domain.ActionExecute, arguments, nil, nil, progress)
}

// RevertTask отправляет воркеру запрос на откат ранее выполненного task
// (action=revert); result/failures — данные исходного выполнения,
// необходимые воркеру для компенсации.
func (e *Executor) RevertTask(ctx context.Context, taskName string, id uuid.UUID, arguments map[string]any, result any, failures map[string]any, progress domain.ProgressFunc) *domain.Promise {
	return e.submit(ctx, taskName, id, domain.ActionRevert, arguments, result, failures, progress)
}

func (e *Executor) submit(ctx context.Context, taskName string, id uuid.UUID, action domain.Action, arguments map[string]any, result any, failures map[string]any, progress domain.ProgressFunc) *domain.Promise {
	req := domain.NewRequest(taskName, id, action, arguments, e.transitionTimeout, e.logger)
	req.Result = result
	req.Failures = failures

	e.stoppedMu.RLock()
	ready := e.started && !e.stopped
	e.stoppedMu.RUnlock()
	if !ready {
		req.SetResult(domain.Outcome{Err: ErrNotStarted})
		return req.Promise
	}

	if progress != nil {
		req.Notifier.Register("PROGRESS_UPDATE", progress)
		req.Promise.OnDone(func() { req.Notifier.Deregister("PROGRESS_UPDATE") })
	}

	if err := e.registry.Add(req); err != nil {
		e.logger.Error("duplicate request uuid, rejecting submit", "request_uuid", id)
		req.SetResult(domain.Outcome{Err: err})
		return req.Promise
	}
	telemetry.RequestsInFlight.Set(float64(e.registry.Len()))

	if topic, ok := e.finder.GetWorkerForTask(taskName, id); ok {
		if req.Transition(domain.StatePending) {
			if err := e.publishRequest(ctx, req, topic); err != nil {
				e.logger.Warn("initial publish failed", "request_uuid", id, "error", err)
			}
		}
	}

	return req.Promise
}

// WaitForWorkers блокируется пока Worker Finder не узнает не менее minCount
// различных воркеров либо не истечёт timeout. Возвращает недостачу (0 —
// условие выполнено).
func (e *Executor) WaitForWorkers(ctx context.Context, minCount int, timeout time.Duration) int {
	return e.finder.WaitForWorkers(ctx, minCount, timeout)
}

// publishRequest сериализует Request в RequestBody и публикует его
// выбранному воркеру. При неуспехе переводит запрос в FAILURE и заполняет
// Promise PublishError — общий путь и для немедленной публикации из
// submit, и для отложенной из Maintenance Tick.
func (e *Executor) publishRequest(ctx context.Context, req *domain.Request, workerTopic mq.Topic) error {
	body := map[string]any{
		"task_name": req.TaskName,
		"task_uuid": req.UUID.String(),
		"action":    string(req.Action),
		"arguments": req.Arguments,
	}
	if req.Action == domain.ActionRevert {
		body["result"] = req.Result
		body["failures"] = req.Failures
	}

	err := e.proxy.Publish(ctx, mq.TypeRequest, workerTopic, e.proxy.Topic(), req.UUID.String(), body)
	if err != nil {
		if req.Transition(domain.StateFailure) {
			e.registry.Remove(req.UUID)
			e.finalize(req, domain.Outcome{
				Err: &domain.PublishError{RequestUUID: req.UUID.String(), Cause: err},
			})
		}
		return err
	}
	return nil
}

// finalize заполняет Promise запроса, обновляет метрики и, если настроен
// audit sink, записывает терминальный исход. Единая точка выхода из
// Registry для Dispatcher, Tick и Stop.
func (e *Executor) finalize(req *domain.Request, outcome domain.Outcome) {
	req.SetResult(outcome)

	telemetry.RequestsInFlight.Set(float64(e.registry.Len()))
	telemetry.RequestLifetime.Observe(time.Since(req.CreatedAt).Seconds())
	telemetry.RequestsFinalizedTotal.WithLabelValues(req.TaskName, outcomeLabel(outcome)).Inc()

	if e.audit != nil {
		go e.audit.Record(context.Background(), req, outcome)
	}
}

func outcomeLabel(o domain.Outcome) string {
	if o.Succeeded() {
		return "success"
	}
	switch o.Err.(type) {
	case *domain.RequestTimeoutError:
		return "timeout"
	case *domain.PublishError:
		return "publish_error"
	default:
		if o.Failure != nil {
			return "failure"
		}
		return "error"
	}
}

// handleResponse — TypeHandler для RESPONSE, адресованный Dispatcher.
func (e *Executor) handleResponse(ctx context.Context, env *mq.Envelope) {
	e.dispatcher.HandleResponse(ctx, env)
}

// handleNotifyResponse — TypeHandler для NOTIFY_RESPONSE, адресованный
// Worker Finder.
func (e *Executor) handleNotifyResponse(ctx context.Context, env *mq.Envelope) {
	body, err := mq.DecodeBody[mq.NotifyResponseBody](env.Body)
	if err != nil {
		e.logger.Warn("malformed notify_response body, dropping", "error", err)
		return
	}
	if body.Topic == "" {
		e.logger.Warn("notify_response without topic, dropping")
		return
	}
	e.finder.HandleNotifyResponse(mq.Topic(body.Topic), body.Tasks)
	telemetry.WorkersKnown.Set(float64(e.finder.Count()))
}

// onWait — callback Proxy, вызываемый в простоях между входящими
// сообщениями. Здесь и только здесь запускаются Maintenance Tick и
// периодический NOTIFY-probe Worker Finder, так что оба остаются в одном
// потоке исполнения с приёмом сообщений и не требуют отдельной горутины.
func (e *Executor) onWait() {
	now := time.Now()

	e.lastProbeMu.Lock()
	dueProbe := now.Sub(e.lastProbe) >= e.finder.ProbePeriod()
	if dueProbe {
		e.lastProbe = now
	}
	e.lastProbeMu.Unlock()
	if dueProbe {
		e.finder.Tick(e.runCtx)
		telemetry.WorkersKnown.Set(float64(e.finder.Count()))
	}

	e.lastTickMu.Lock()
	dueTick := now.Sub(e.lastTick) >= e.tickInterval
	if dueTick {
		e.lastTick = now
	}
	e.lastTickMu.Unlock()
	if dueTick {
		e.tick.Run(e.runCtx)
		telemetry.RequestsInFlight.Set(float64(e.registry.Len()))
	}
}
