package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Automata/internal/domain"
)

// AuditRepo пишет терминальные исходы запросов в audit_log. Запись
// write-only: ни одна часть executor не читает её обратно, audit_log
// существует для внешнего аудита и отладки постфактум.
type AuditRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewAuditRepo создаёт AuditRepo.
func NewAuditRepo(pool *pgxpool.Pool, logger *slog.Logger) *AuditRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepo{pool: pool, logger: logger}
}

// Record вставляет одну строку в audit_log по терминальному исходу req.
// Вызывается асинхронно из Executor, поэтому ошибки только логируются —
// сбой записи аудита не должен влиять на доставленный вызывающей стороне
// результат.
func (r *AuditRepo) Record(ctx context.Context, req *domain.Request, outcome domain.Outcome) {
	finalState := req.State()

	var errText *string
	if outcome.Err != nil {
		s := outcome.Err.Error()
		errText = &s
	}

	failureJSON, err := json.Marshal(outcome.Failure)
	if err != nil {
		r.logger.Error("marshal failure for audit log", "request_uuid", req.UUID, "error", err)
		return
	}
	resultJSON, err := json.Marshal(outcome.Result)
	if err != nil {
		r.logger.Error("marshal result for audit log", "request_uuid", req.UUID, "error", err)
		return
	}

	query := `
		INSERT INTO audit_log (
			request_uuid, task_name, action, final_state,
			result, failure, error, submitted_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		req.UUID,
		req.TaskName,
		string(req.Action),
		string(finalState),
		resultJSON,
		failureJSON,
		errText,
		req.CreatedAt,
		time.Now(),
	)
	if err != nil {
		r.logger.Error("insert audit log row", "request_uuid", req.UUID, "error", fmt.Errorf("insert audit_log: %w", err))
	}
}
