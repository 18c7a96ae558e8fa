package domain

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action — тип запрашиваемой операции над task.
type Action string

const (
	// ActionExecute — выполнить task.
	ActionExecute Action = "execute"

	// ActionRevert — откатить ранее выполненный task.
	ActionRevert Action = "revert"
)

// RequestState — состояние запроса в его жизненном цикле.
//
// Легальные переходы:
//
//	WAITING → PENDING → RUNNING → SUCCESS
//	     │        │          │
//	     │        └─────► FAILURE ◄┘
//	     └──────────────► FAILURE
//
// SUCCESS и FAILURE финальны; любая другая попытка перехода отклоняется
// без изменения состояния.
type RequestState string

const (
	// StateWaiting — воркер ещё не известен.
	StateWaiting RequestState = "WAITING"

	// StatePending — запрос опубликован, ждём подтверждения.
	StatePending RequestState = "PENDING"

	// StateRunning — воркер подтвердил начало выполнения.
	StateRunning RequestState = "RUNNING"

	// StateSuccess — запрос успешно завершён.
	StateSuccess RequestState = "SUCCESS"

	// StateFailure — запрос завершился ошибкой.
	StateFailure RequestState = "FAILURE"
)

// IsTerminal возвращает true для SUCCESS и FAILURE.
func (s RequestState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

// legalEdges перечисляет допустимые переходы состояния запроса.
var legalEdges = map[RequestState]map[RequestState]bool{
	StateWaiting: {StatePending: true, StateFailure: true},
	StatePending: {StateRunning: true, StateFailure: true},
	StateRunning: {StateSuccess: true, StateFailure: true},
}

// Outcome — результат, которым выполняется Promise запроса.
type Outcome struct {
	// Result — значение успеха (для SUCCESS).
	Result any

	// Failure — описание ошибки выполнения на стороне воркера (для FAILURE
	// ответов с data.failure).
	Failure map[string]any

	// Err — инфраструктурная ошибка (PublishError, RequestTimeout), если
	// запрос не дошёл до воркера или истёк по таймауту.
	Err error
}

// Succeeded возвращает true, если Outcome не несёт ни Err, ни Failure.
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Failure == nil
}

// ProgressFunc — подписчик на промежуточные события запроса.
// Вызывается синхронно из цикла приёма сообщений; не должен блокироваться.
type ProgressFunc func(eventType string, details map[string]any)

// Notifier — мультикаст-точка подписки на промежуточные события запроса.
type Notifier struct {
	mu   sync.Mutex
	subs map[string][]ProgressFunc
}

// NewNotifier создаёт пустой Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string][]ProgressFunc)}
}

// Register подписывает callback на событие eventType.
func (n *Notifier) Register(eventType string, fn ProgressFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[eventType] = append(n.subs[eventType], fn)
}

// Deregister отписывает все callbacks от события eventType.
func (n *Notifier) Deregister(eventType string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, eventType)
}

// Notify синхронно вызывает все подписки на eventType.
func (n *Notifier) Notify(eventType string, details map[string]any) {
	n.mu.Lock()
	fns := append([]ProgressFunc(nil), n.subs[eventType]...)
	n.mu.Unlock()

	for _, fn := range fns {
		fn(eventType, details)
	}
}

// Promise — однократно заполняемая ячейка результата, на которую
// подписывается вызывающая сторона.
type Promise struct {
	once sync.Once
	ch   chan Outcome

	doneMu    sync.Mutex
	doneCbs   []func()
	fulfilled bool
}

// NewPromise создаёт незаполненный Promise.
func NewPromise() *Promise {
	return &Promise{ch: make(chan Outcome, 1)}
}

// Set заполняет Promise результатом и вызывает все подписки OnDone.
// Возвращает true, если это был первый вызов; последующие вызовы — no-op
// и возвращают false.
func (p *Promise) Set(o Outcome) bool {
	fulfilled := false
	p.once.Do(func() {
		p.ch <- o

		p.doneMu.Lock()
		cbs := p.doneCbs
		p.doneCbs = nil
		p.fulfilled = true
		p.doneMu.Unlock()

		for _, cb := range cbs {
			cb()
		}
		fulfilled = true
	})
	return fulfilled
}

// Wait блокируется до заполнения Promise и возвращает результат. Значение
// возвращается в канал, так что Wait можно вызывать повторно.
func (p *Promise) Wait() Outcome {
	o := <-p.ch
	p.ch <- o
	return o
}

// OnDone регистрирует callback, вызываемый при заполнении Promise — не
// потребляя результат из Wait(). Если Promise уже заполнен, вызывает fn
// немедленно. Используется для отписки progress-подписчиков без гонки
// с вызывающей стороной, читающей Wait().
func (p *Promise) OnDone(fn func()) {
	p.doneMu.Lock()
	if p.fulfilled {
		p.doneMu.Unlock()
		fn()
		return
	}
	p.doneCbs = append(p.doneCbs, fn)
	p.doneMu.Unlock()
}

// Request — одна попытка доставки task конкретному воркеру.
//
// Неизменяемые поля фиксируются в момент создания; Transition — единственный
// легальный способ изменить State.
type Request struct {
	UUID      uuid.UUID
	TaskName  string
	Action    Action
	Arguments map[string]any
	CreatedAt time.Time
	Timeout   time.Duration

	// Result/Failures — дополнительные поля REVERT запросов (§3).
	Result   any
	Failures map[string]any

	Promise  *Promise
	Notifier *Notifier

	mu        sync.Mutex
	state     RequestState
	statePath []RequestState
	logger    *slog.Logger
}

// NewRequest создаёт Request в состоянии WAITING.
func NewRequest(taskName string, id uuid.UUID, action Action, arguments map[string]any, timeout time.Duration, logger *slog.Logger) *Request {
	if logger == nil {
		logger = slog.Default()
	}
	return &Request{
		UUID:      id,
		TaskName:  taskName,
		Action:    action,
		Arguments: arguments,
		CreatedAt: time.Now(),
		Timeout:   timeout,
		Promise:   NewPromise(),
		Notifier:  NewNotifier(),
		state:     StateWaiting,
		statePath: []RequestState{StateWaiting},
		logger:    logger,
	}
}

// State возвращает текущее состояние запроса.
func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// StatePath возвращает наблюдавшуюся последовательность состояний.
func (r *Request) StatePath() []RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RequestState(nil), r.statePath...)
}

// Transition пытается перевести запрос в target. Возвращает true только
// если переход легален; в этом случае мутация атомарна. Нелегальные попытки
// не меняют состояние и логируются на уровне debug.
func (r *Request) Transition(target RequestState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !legalEdges[r.state][target] {
		r.logger.Debug("illegal request transition",
			"request_uuid", r.UUID,
			"from", r.state,
			"to", target,
		)
		return false
	}

	r.state = target
	r.statePath = append(r.statePath, target)
	return true
}

// Expired возвращает true, если запрос не финален и просрочен.
func (r *Request) Expired() bool {
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()

	if state.IsTerminal() {
		return false
	}
	return time.Since(r.CreatedAt) >= r.Timeout
}

// SetResult заполняет Promise запроса. Повторные вызовы — no-op (логируются).
func (r *Request) SetResult(o Outcome) {
	if !r.Promise.Set(o) {
		r.logger.Debug("result already set, ignoring", "request_uuid", r.UUID)
	}
}
