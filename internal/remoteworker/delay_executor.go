package remoteworker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Automata/internal/mq"
)

// TaskDelay — имя task, обслуживаемого DelayExecutor.
const TaskDelay = "delay"

const (
	argDurationSec = "duration_sec"
	argDurationMs  = "duration_ms"
)

// progressCheckpoints — доли общей длительности, на которых DelayExecutor
// публикует EVENT прогресса.
var progressCheckpoints = []float64{0.25, 0.5, 0.75}

// DelayExecutor приостанавливает выполнение на заданное время, сообщая
// прогресс через progress на отметках 25/50/75%.
//
// Arguments:
//
//	{"duration_sec": 10} // либо {"duration_ms": 5000}
type DelayExecutor struct{}

// NewDelayExecutor создаёт DelayExecutor.
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

// Execute ждёт duration, выходя раньше при отмене ctx. Revert для delay —
// no-op: откатывать нечего, поэтому он всегда успешен.
func (e *DelayExecutor) Execute(ctx context.Context, req *ExecutionRequest, progress ProgressFunc) (*ExecutionResult, error) {
	if req.Action == mq.ActionRevert {
		return &ExecutionResult{Result: map[string]any{"reverted": true}}, nil
	}

	duration, err := e.parseDuration(req.Arguments)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return &ExecutionResult{Result: map[string]any{"duration_ms": int64(0)}}, nil
	}

	start := time.Now()
	deadline := start.Add(duration)

	for _, fraction := range progressCheckpoints {
		checkpoint := start.Add(time.Duration(float64(duration) * fraction))
		wait := time.Until(checkpoint)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
		case <-timer.C:
			if progress != nil {
				progress("PROGRESS_UPDATE", map[string]any{
					"fraction_complete": fraction,
					"elapsed_ms":        time.Since(start).Milliseconds(),
				})
			}
		}
	}

	remaining := time.Until(deadline)
	if remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return &ExecutionResult{
		Result: map[string]any{"duration_ms": duration.Milliseconds()},
	}, nil
}

func (e *DelayExecutor) parseDuration(args map[string]any) (time.Duration, error) {
	if sec := getInt(args, argDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := getInt(args, argDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%w: %s: duration_sec or duration_ms required", ErrInvalidConfig, TaskDelay)
}
