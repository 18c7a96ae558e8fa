package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Automata/internal/discovery"
	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/mq"
)

// Tick — Maintenance Tick: на каждом вызове Run обходит Registry один раз,
// снимая с учёта просроченные запросы и публикуя REQUEST для тех, что
// дождались появления подходящего воркера. Аналог pollLoop/poll у
// оркестратора, но без собственного тикера — вызывается из on_wait Proxy.
type Tick struct {
	registry *Registry
	finder   *discovery.Finder
	publish  func(ctx context.Context, req *domain.Request, workerTopic mq.Topic) error
	finalize func(req *domain.Request, outcome domain.Outcome)
	logger   *slog.Logger
}

func newTick(registry *Registry, finder *discovery.Finder, publish func(ctx context.Context, req *domain.Request, workerTopic mq.Topic) error, finalize func(req *domain.Request, outcome domain.Outcome), logger *slog.Logger) *Tick {
	return &Tick{registry: registry, finder: finder, publish: publish, finalize: finalize, logger: logger}
}

// Run выполняет один проход обслуживания:
//  1. Снимает слепок текущих uuid — без удержания мьютекса Registry на весь
//     обход.
//  2. Классифицирует каждый запрос: просрочен, готов к публикации (WAITING
//     с найденным воркером) или пропускается (уже PENDING/RUNNING и не
//     просрочен).
//  3. Просроченные снимаются с реестра и проваливаются с RequestTimeoutError
//     под защитой Registry — конкурирующий Dispatcher не может сразу после
//     этого завершить тот же запрос успешно, потому что Remove делает его
//     невидимым для HandleResponse.
//  4. Готовые публикуются вне мьютекса; ошибка публикации проваливает
//     запрос через ту же функцию finalize, что и Dispatcher.
func (t *Tick) Run(ctx context.Context) {
	ids := t.registry.Snapshot()

	var expired []*domain.Request
	type dispatch struct {
		req   *domain.Request
		topic mq.Topic
	}
	var ready []dispatch

	for _, id := range ids {
		req, ok := t.registry.Get(id)
		if !ok {
			continue
		}

		if req.Expired() {
			expired = append(expired, req)
			continue
		}

		if req.State() != domain.StateWaiting {
			continue
		}

		topic, ok := t.finder.GetWorkerForTask(req.TaskName, req.UUID)
		if !ok {
			continue
		}
		ready = append(ready, dispatch{req: req, topic: topic})
	}

	for _, req := range expired {
		if !req.Transition(domain.StateFailure) {
			continue
		}
		t.registry.Remove(req.UUID)

		waited := time.Since(req.CreatedAt)
		statesSeen := req.StatePath()
		t.logger.Warn("request expired waiting for response",
			"request_uuid", req.UUID, "waited", waited, "states_seen", statesSeen)

		t.finalize(req, domain.Outcome{
			Err: &domain.RequestTimeoutError{
				RequestUUID: req.UUID.String(),
				Waited:      waited,
				StatesSeen:  statesSeen,
			},
		})
	}

	for _, d := range ready {
		if !d.req.Transition(domain.StatePending) {
			continue
		}
		if err := t.publish(ctx, d.req, d.topic); err != nil {
			t.logger.Warn("tick dispatch publish failed",
				"request_uuid", d.req.UUID, "worker_topic", d.topic, "error", err)
		}
	}
}
