package executor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/domain"
)

// newTestExecutor builds an Executor without dialing a real broker. submit()
// requires e.started, so tests mark it started directly instead of calling
// Start() (which would block on a real mq.Connection).
func newTestExecutor() *Executor {
	e := New(Config{UUID: "executor-test", Logger: discardLogger()})
	e.started = true
	return e
}

func TestExecutor_SubmitBeforeStartFailsImmediately(t *testing.T) {
	e := New(Config{UUID: "executor-test", Logger: discardLogger()})
	id := uuid.New()

	promise := e.ExecuteTask(context.Background(), "http_call", id, nil, nil)
	outcome := promise.Wait()
	if outcome.Succeeded() {
		t.Fatal("expected submit before Start to fail")
	}
	if outcome.Err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", outcome.Err)
	}
	if _, ok := e.registry.Get(id); ok {
		t.Fatal("request rejected before Start must not be tracked in the registry")
	}
}

func TestExecutor_SubmitAfterStopFailsImmediately(t *testing.T) {
	e := newTestExecutor()
	e.stopped = true
	id := uuid.New()

	promise := e.ExecuteTask(context.Background(), "http_call", id, nil, nil)
	outcome := promise.Wait()
	if outcome.Succeeded() {
		t.Fatal("expected submit after Stop to fail")
	}
	if outcome.Err != ErrNotStarted {
		t.Fatalf("expected ErrNotStarted, got %v", outcome.Err)
	}
}

func TestExecutor_SubmitWithoutKnownWorkerStaysWaiting(t *testing.T) {
	e := newTestExecutor()
	id := uuid.New()

	promise := e.ExecuteTask(context.Background(), "http_call", id, map[string]any{"url": "http://example.com"}, nil)
	if promise == nil {
		t.Fatal("expected a non-nil promise")
	}

	req, ok := e.registry.Get(id)
	if !ok {
		t.Fatal("expected request to be tracked in the registry")
	}
	if req.State() != domain.StateWaiting {
		t.Fatalf("expected WAITING with no known worker, got %s", req.State())
	}
}

func TestExecutor_DuplicateSubmitFailsImmediately(t *testing.T) {
	e := newTestExecutor()
	id := uuid.New()

	e.ExecuteTask(context.Background(), "http_call", id, nil, nil)
	promise := e.ExecuteTask(context.Background(), "http_call", id, nil, nil)

	outcome := promise.Wait()
	if outcome.Succeeded() {
		t.Fatal("expected duplicate submit to fail")
	}
	if outcome.Err != domain.ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got %v", outcome.Err)
	}
}

func TestExecutor_ProgressCallbackDeregisteredOnFinalize(t *testing.T) {
	e := newTestExecutor()
	id := uuid.New()

	calls := 0
	promise := e.ExecuteTask(context.Background(), "http_call", id, nil, func(eventType string, details map[string]any) {
		calls++
	})

	req, _ := e.registry.Get(id)
	req.Notifier.Notify("PROGRESS_UPDATE", nil)
	if calls != 1 {
		t.Fatalf("expected progress callback to fire while pending, got %d calls", calls)
	}

	e.finalize(req, domain.Outcome{Result: "ok"})
	req.Notifier.Notify("PROGRESS_UPDATE", nil)
	if calls != 1 {
		t.Fatalf("expected progress callback deregistered after finalize, got %d calls", calls)
	}

	if !promise.Wait().Succeeded() {
		t.Fatal("expected promise fulfilled by finalize")
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := []struct {
		name    string
		outcome domain.Outcome
		want    string
	}{
		{"success", domain.Outcome{Result: "ok"}, "success"},
		{"timeout", domain.Outcome{Err: &domain.RequestTimeoutError{}}, "timeout"},
		{"publish_error", domain.Outcome{Err: &domain.PublishError{}}, "publish_error"},
		{"failure", domain.Outcome{Failure: map[string]any{"error": "x"}, Err: errGeneric}, "failure"},
	}
	for _, c := range cases {
		if got := outcomeLabel(c.outcome); got != c.want {
			t.Errorf("%s: expected label %q, got %q", c.name, c.want, got)
		}
	}
}

var errGeneric = context.DeadlineExceeded
