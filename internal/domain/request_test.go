package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestRequest(timeout time.Duration) *Request {
	return NewRequest("http_call", uuid.New(), ActionExecute, map[string]any{"url": "http://example.com"}, timeout, nil)
}

func TestRequest_InitialState(t *testing.T) {
	req := newTestRequest(time.Second)
	if req.State() != StateWaiting {
		t.Fatalf("expected initial state WAITING, got %s", req.State())
	}
	if got := req.StatePath(); len(got) != 1 || got[0] != StateWaiting {
		t.Fatalf("expected state path [WAITING], got %v", got)
	}
}

func TestRequest_LegalTransitions(t *testing.T) {
	req := newTestRequest(time.Second)

	if !req.Transition(StatePending) {
		t.Fatal("WAITING -> PENDING should be legal")
	}
	if !req.Transition(StateRunning) {
		t.Fatal("PENDING -> RUNNING should be legal")
	}
	if !req.Transition(StateSuccess) {
		t.Fatal("RUNNING -> SUCCESS should be legal")
	}

	want := []RequestState{StateWaiting, StatePending, StateRunning, StateSuccess}
	got := req.StatePath()
	if len(got) != len(want) {
		t.Fatalf("expected state path %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected state path %v, got %v", want, got)
		}
	}
}

func TestRequest_IllegalTransitionIsNoOp(t *testing.T) {
	req := newTestRequest(time.Second)
	req.Transition(StatePending)
	req.Transition(StateRunning)
	req.Transition(StateSuccess)

	if req.Transition(StateRunning) {
		t.Fatal("terminal SUCCESS -> RUNNING should be illegal")
	}
	if req.State() != StateSuccess {
		t.Fatalf("illegal transition must not change state, got %s", req.State())
	}
	if len(req.StatePath()) != 4 {
		t.Fatalf("illegal transition must not extend state path, got %v", req.StatePath())
	}
}

func TestRequest_DuplicateTerminalTransitionRejected(t *testing.T) {
	req := newTestRequest(time.Second)
	req.Transition(StatePending)
	req.Transition(StateRunning)

	if !req.Transition(StateSuccess) {
		t.Fatal("first RUNNING -> SUCCESS should succeed")
	}
	if req.Transition(StateFailure) {
		t.Fatal("SUCCESS -> FAILURE must be rejected, SUCCESS is terminal")
	}
}

func TestRequest_Expired(t *testing.T) {
	req := newTestRequest(10 * time.Millisecond)
	if req.Expired() {
		t.Fatal("freshly created request should not be expired")
	}
	time.Sleep(20 * time.Millisecond)
	if !req.Expired() {
		t.Fatal("request should be expired after its timeout elapsed")
	}
}

func TestRequest_ExpiredNeverTrueForTerminalState(t *testing.T) {
	req := newTestRequest(time.Nanosecond)
	req.Transition(StatePending)
	req.Transition(StateRunning)
	req.Transition(StateSuccess)
	time.Sleep(time.Millisecond)

	if req.Expired() {
		t.Fatal("terminal request must never report as expired")
	}
}

func TestPromise_SetFulfillsWait(t *testing.T) {
	p := NewPromise()
	go func() {
		p.Set(Outcome{Result: "done"})
	}()

	outcome := p.Wait()
	if outcome.Result != "done" {
		t.Fatalf("expected result 'done', got %v", outcome.Result)
	}
	if !outcome.Succeeded() {
		t.Fatal("outcome without Err should report Succeeded")
	}
}

func TestPromise_SecondSetIsNoOp(t *testing.T) {
	p := NewPromise()
	if !p.Set(Outcome{Result: "first"}) {
		t.Fatal("first Set should return true")
	}
	if p.Set(Outcome{Result: "second"}) {
		t.Fatal("second Set should return false")
	}

	outcome := p.Wait()
	if outcome.Result != "first" {
		t.Fatalf("expected first result to win, got %v", outcome.Result)
	}
}

func TestPromise_OnDoneFiresAfterSet(t *testing.T) {
	p := NewPromise()
	fired := make(chan struct{})
	p.OnDone(func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("OnDone must not fire before Set")
	default:
	}

	p.Set(Outcome{Result: "ok"})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnDone should fire synchronously within Set")
	}
}

func TestPromise_OnDoneFiresImmediatelyIfAlreadySet(t *testing.T) {
	p := NewPromise()
	p.Set(Outcome{Result: "ok"})

	fired := false
	p.OnDone(func() { fired = true })
	if !fired {
		t.Fatal("OnDone on an already-fulfilled Promise should fire immediately")
	}
}

func TestNotifier_NotifyReachesRegisteredSubscribers(t *testing.T) {
	n := NewNotifier()
	var received map[string]any
	n.Register("PROGRESS_UPDATE", func(eventType string, details map[string]any) {
		received = details
	})

	n.Notify("PROGRESS_UPDATE", map[string]any{"fraction_complete": 0.5})
	if received == nil || received["fraction_complete"] != 0.5 {
		t.Fatalf("expected subscriber to receive details, got %v", received)
	}
}

func TestNotifier_DeregisterStopsDelivery(t *testing.T) {
	n := NewNotifier()
	calls := 0
	n.Register("PROGRESS_UPDATE", func(eventType string, details map[string]any) {
		calls++
	})
	n.Deregister("PROGRESS_UPDATE")
	n.Notify("PROGRESS_UPDATE", nil)

	if calls != 0 {
		t.Fatalf("expected 0 calls after Deregister, got %d", calls)
	}
}
