package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/mq"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func responseEnvelope(correlationID string, state mq.ResponseState, data map[string]any) *mq.Envelope {
	return &mq.Envelope{
		Type:          mq.TypeResponse,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Body: map[string]any{
			"state": string(state),
			"data":  data,
		},
	}
}

func newTestDispatcher() (*Dispatcher, *Registry, *[]domain.Outcome) {
	registry := NewRegistry()
	finalized := &[]domain.Outcome{}
	d := newDispatcher(registry, func(req *domain.Request, outcome domain.Outcome) {
		*finalized = append(*finalized, outcome)
		req.SetResult(outcome)
	}, discardLogger())
	return d, registry, finalized
}

func TestDispatcher_HappyPath(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	req := newTestRequest()
	req.Transition(domain.StatePending)
	registry.Add(req)

	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseRunning, nil))
	if req.State() != domain.StateRunning {
		t.Fatalf("expected RUNNING after RUNNING response, got %s", req.State())
	}

	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseSuccess, map[string]any{"result": "ok"}))
	if req.State() != domain.StateSuccess {
		t.Fatalf("expected SUCCESS, got %s", req.State())
	}
	if _, ok := registry.Get(req.UUID); ok {
		t.Fatal("expected request removed from registry after SUCCESS")
	}

	outcome := req.Promise.Wait()
	if outcome.Result != "ok" {
		t.Fatalf("expected result 'ok', got %v", outcome.Result)
	}
}

func TestDispatcher_EventForwardsWithoutStateChange(t *testing.T) {
	d, registry, _ := newTestDispatcher()
	req := newTestRequest()
	req.Transition(domain.StatePending)
	req.Transition(domain.StateRunning)
	registry.Add(req)

	var received map[string]any
	req.Notifier.Register("PROGRESS_UPDATE", func(eventType string, details map[string]any) {
		received = details
	})

	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseEvent, map[string]any{
		"event_type": "PROGRESS_UPDATE",
		"details":    map[string]any{"fraction_complete": 0.5},
	}))

	if req.State() != domain.StateRunning {
		t.Fatalf("EVENT must not change state, got %s", req.State())
	}
	if received == nil || received["fraction_complete"] != 0.5 {
		t.Fatalf("expected notifier to receive EVENT details, got %v", received)
	}
	if _, ok := registry.Get(req.UUID); !ok {
		t.Fatal("EVENT must not remove request from registry")
	}
}

func TestDispatcher_UnknownCorrelationDropped(t *testing.T) {
	d, _, finalized := newTestDispatcher()

	// No request registered under this uuid at all.
	d.HandleResponse(context.Background(), responseEnvelope("d290f1ee-6c54-4b01-90e6-d701748f0851", mq.ResponseSuccess, nil))

	if len(*finalized) != 0 {
		t.Fatal("unknown correlation_id must not finalize anything")
	}
}

func TestDispatcher_MissingCorrelationIDDropped(t *testing.T) {
	d, _, finalized := newTestDispatcher()

	env := &mq.Envelope{Type: mq.TypeResponse, Body: map[string]any{"state": "SUCCESS", "data": map[string]any{}}}
	d.HandleResponse(context.Background(), env)

	if len(*finalized) != 0 {
		t.Fatal("response without correlation_id must not finalize anything")
	}
}

func TestDispatcher_DuplicateTerminalResponseIgnored(t *testing.T) {
	d, registry, finalized := newTestDispatcher()
	req := newTestRequest()
	req.Transition(domain.StatePending)
	req.Transition(domain.StateRunning)
	registry.Add(req)

	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseSuccess, map[string]any{"result": "first"}))
	if len(*finalized) != 1 {
		t.Fatalf("expected exactly one finalize call, got %d", len(*finalized))
	}

	// A late/duplicate SUCCESS for the same uuid arrives after removal —
	// Registry.Get misses, so the second response is dropped before it can
	// re-finalize.
	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseSuccess, map[string]any{"result": "second"}))
	if len(*finalized) != 1 {
		t.Fatalf("expected duplicate terminal response to be dropped, got %d finalize calls", len(*finalized))
	}
}

func TestDispatcher_UnknownStateDropped(t *testing.T) {
	d, registry, finalized := newTestDispatcher()
	req := newTestRequest()
	req.Transition(domain.StatePending)
	registry.Add(req)

	d.HandleResponse(context.Background(), responseEnvelope(req.UUID.String(), mq.ResponseState("BOGUS"), nil))

	if req.State() != domain.StatePending {
		t.Fatalf("unknown state must not change request state, got %s", req.State())
	}
	if len(*finalized) != 0 {
		t.Fatal("unknown state must not finalize")
	}
}
