package executor

import "errors"

// Ошибки фасада Executor.
var (
	// ErrNotStarted — операция требует запущенного Executor.
	ErrNotStarted = errors.New("executor not started")

	// ErrAlreadyStarted — повторный Start уже запущенного Executor.
	ErrAlreadyStarted = errors.New("executor already started")
)
