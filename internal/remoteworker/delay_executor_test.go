package remoteworker

import (
	"context"
	"testing"
	"time"

	"github.com/shaiso/Automata/internal/mq"
)

func TestDelayExecutor_CompletesAndReportsProgress(t *testing.T) {
	executor := NewDelayExecutor()
	var fractions []float64

	req := &ExecutionRequest{
		Action:    mq.ActionExecute,
		Arguments: map[string]any{"duration_ms": 40},
	}

	result, err := executor.Execute(context.Background(), req, func(eventType string, details map[string]any) {
		if eventType != "PROGRESS_UPDATE" {
			t.Errorf("expected PROGRESS_UPDATE, got %s", eventType)
		}
		fractions = append(fractions, details["fraction_complete"].(float64))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outputs, ok := result.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected Result to be a map, got %T", result.Result)
	}
	if _, ok := outputs["duration_ms"]; !ok {
		t.Fatal("expected duration_ms in result")
	}

	if len(fractions) != 3 {
		t.Fatalf("expected 3 progress checkpoints, got %d: %v", len(fractions), fractions)
	}
	for i, want := range []float64{0.25, 0.5, 0.75} {
		if fractions[i] != want {
			t.Errorf("checkpoint %d: expected %v, got %v", i, want, fractions[i])
		}
	}
}

func TestDelayExecutor_CancelledByContext(t *testing.T) {
	executor := NewDelayExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := executor.Execute(ctx, &ExecutionRequest{
		Action:    mq.ActionExecute,
		Arguments: map[string]any{"duration_sec": 10},
	}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestDelayExecutor_MissingDurationIsInvalidConfig(t *testing.T) {
	executor := NewDelayExecutor()
	_, err := executor.Execute(context.Background(), &ExecutionRequest{Action: mq.ActionExecute}, nil)
	if err == nil {
		t.Fatal("expected error for missing duration")
	}
}

func TestDelayExecutor_RevertIsNoopSuccess(t *testing.T) {
	executor := NewDelayExecutor()
	result, err := executor.Execute(context.Background(), &ExecutionRequest{Action: mq.ActionRevert}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Failure != nil {
		t.Fatal("revert of delay should always succeed")
	}
}
