package remoteworker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTask — нет executor'а для данного task_name.
	ErrUnknownTask = errors.New("unknown task")

	// ErrInvalidConfig — невалидные arguments для данного task_name.
	ErrInvalidConfig = errors.New("invalid task arguments")

	// ErrExecutionCancelled — выполнение task отменено по ctx.
	ErrExecutionCancelled = errors.New("task execution cancelled")
)
