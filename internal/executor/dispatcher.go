package executor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/mq"
)

// Dispatcher — Response Dispatcher: читает RESPONSE-сообщения из Proxy и
// применяет их к запросам Registry. Аналог processTaskCompleted у оркестратора, но управляет
// Request-машиной состояний вместо run/step записей в БД.
type Dispatcher struct {
	registry *Registry
	finalize func(req *domain.Request, outcome domain.Outcome)
	logger   *slog.Logger
}

// newDispatcher создаёт Dispatcher. finalize вызывается ровно один раз на
// запрос, выигравший переход в SUCCESS/FAILURE по RESPONSE — Executor использует его, чтобы сразу заполнить Promise и, если настроен
// audit sink, записать исход.
func newDispatcher(registry *Registry, finalize func(req *domain.Request, outcome domain.Outcome), logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, finalize: finalize, logger: logger}
}

// HandleResponse — TypeHandler для RESPONSE. Правила (в порядке проверки):
//  1. Отсутствующий correlation_id — сообщение отбрасывается с warning.
//  2. correlation_id не входит в UUID — отбрасывается с warning.
//  3. correlation_id не найден в Registry (поздний/дублирующий ответ на
//     уже завершённый или никогда не существовавший запрос) — отбрасывается
//     молча на уровне debug.
//  4. RUNNING — переход в RUNNING; нелегальный переход (например, второй
//     RUNNING подряд) — no-op.
//  5. EVENT — пересылается в Notifier без изменения состояния.
//  6. SUCCESS/FAILURE — переход в терминальное состояние; при успехе снятие
//     с реестра и заполнение Promise атомарны относительно Maintenance
//     Tick, который мог в этот момент счесть тот же запрос истёкшим.
//  7. Неизвестное значение state — отбрасывается с warning.
func (d *Dispatcher) HandleResponse(ctx context.Context, env *mq.Envelope) {
	if env.CorrelationID == "" {
		d.logger.Warn("response without correlation_id, dropping")
		return
	}

	id, err := uuid.Parse(env.CorrelationID)
	if err != nil {
		d.logger.Warn("response with malformed correlation_id, dropping",
			"correlation_id", env.CorrelationID, "error", err)
		return
	}

	req, ok := d.registry.Get(id)
	if !ok {
		d.logger.Debug("response for unknown or already-finalized request, dropping",
			"request_uuid", id)
		return
	}

	body, err := mq.DecodeBody[mq.ResponseBody](env.Body)
	if err != nil {
		d.logger.Warn("malformed response body, dropping", "request_uuid", id, "error", err)
		return
	}

	switch body.State {
	case mq.ResponseRunning:
		req.Transition(domain.StateRunning)

	case mq.ResponseEvent:
		eventType, _ := body.Data["event_type"].(string)
		if eventType == "" {
			eventType = "PROGRESS_UPDATE"
		}
		details, _ := body.Data["details"].(map[string]any)
		req.Notifier.Notify(eventType, details)

	case mq.ResponseSuccess:
		if req.Transition(domain.StateSuccess) {
			d.registry.Remove(id)
			d.finalize(req, domain.Outcome{Result: body.Data["result"]})
		}

	case mq.ResponseFailure:
		if req.Transition(domain.StateFailure) {
			d.registry.Remove(id)
			failure, _ := body.Data["failure"].(map[string]any)
			d.finalize(req, domain.Outcome{Failure: failure})
		}

	default:
		d.logger.Warn("response with unknown state, dropping",
			"request_uuid", id, "state", body.State)
	}
}
