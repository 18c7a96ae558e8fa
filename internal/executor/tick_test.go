package executor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/discovery"
	"github.com/shaiso/Automata/internal/domain"
	"github.com/shaiso/Automata/internal/mq"
)

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, msgType mq.MessageType, topic mq.Topic, replyTo mq.Topic, correlationID string, body map[string]any) error {
	return nil
}

func newTestTick(t *testing.T, publish func(ctx context.Context, req *domain.Request, topic mq.Topic) error) (*Tick, *Registry, *discovery.Finder, *[]domain.Outcome) {
	t.Helper()
	registry := NewRegistry()
	finder := discovery.New(discovery.Config{OwnTopic: "executor-1", Proxy: noopPublisher{}})
	finalized := &[]domain.Outcome{}
	finalize := func(req *domain.Request, outcome domain.Outcome) {
		*finalized = append(*finalized, outcome)
		req.SetResult(outcome)
	}
	tick := newTick(registry, finder, publish, finalize, discardLogger())
	return tick, registry, finder, finalized
}

func TestTick_ExpiresWaitingRequestWithNoWorker(t *testing.T) {
	var publishCalls int
	tick, registry, _, _ := newTestTick(t, func(ctx context.Context, req *domain.Request, topic mq.Topic) error {
		publishCalls++
		return nil
	})

	req := domain.NewRequest("http_call", uuid.New(), domain.ActionExecute, nil, time.Millisecond, nil)
	registry.Add(req)
	time.Sleep(5 * time.Millisecond)

	tick.Run(context.Background())

	if req.State() != domain.StateFailure {
		t.Fatalf("expected FAILURE after timeout, got %s", req.State())
	}
	if _, ok := registry.Get(req.UUID); ok {
		t.Fatal("expired request should be removed from registry")
	}
	if publishCalls != 0 {
		t.Fatal("expired request must never be published")
	}

	outcome := req.Promise.Wait()
	if outcome.Succeeded() {
		t.Fatal("expired request outcome must carry an error")
	}
	if _, ok := outcome.Err.(*domain.RequestTimeoutError); !ok {
		t.Fatalf("expected RequestTimeoutError, got %T", outcome.Err)
	}
}

func TestTick_DispatchesWaitingRequestOnceWorkerKnown(t *testing.T) {
	var publishedTopic mq.Topic
	tick, registry, finder, _ := newTestTick(t, func(ctx context.Context, req *domain.Request, topic mq.Topic) error {
		publishedTopic = topic
		req.Transition(domain.StateRunning) // simulate downstream progress for the assertion below
		return nil
	})

	req := domain.NewRequest("http_call", uuid.New(), domain.ActionExecute, nil, time.Minute, nil)
	registry.Add(req)
	finder.HandleNotifyResponse("worker-1", []string{"http_call"})

	tick.Run(context.Background())

	if publishedTopic != "worker-1" {
		t.Fatalf("expected dispatch to worker-1, got %q", publishedTopic)
	}
	if req.State() != domain.StateRunning {
		t.Fatalf("expected state advanced past PENDING by publish callback, got %s", req.State())
	}
}

func TestTick_SkipsRequestAlreadyPastWaiting(t *testing.T) {
	var publishCalls int
	tick, registry, finder, _ := newTestTick(t, func(ctx context.Context, req *domain.Request, topic mq.Topic) error {
		publishCalls++
		return nil
	})

	req := domain.NewRequest("http_call", uuid.New(), domain.ActionExecute, nil, time.Minute, nil)
	req.Transition(domain.StatePending)
	registry.Add(req)
	finder.HandleNotifyResponse("worker-1", []string{"http_call"})

	tick.Run(context.Background())

	if publishCalls != 0 {
		t.Fatal("a request already past WAITING must not be re-dispatched by Tick")
	}
}

func TestTick_PublishFailureFinalizesAsFailure(t *testing.T) {
	tick, registry, finder, finalized := newTestTick(t, func(ctx context.Context, req *domain.Request, topic mq.Topic) error {
		if !req.Transition(domain.StateFailure) {
			t.Fatal("publish failure path should be able to transition PENDING -> FAILURE")
		}
		registry.Remove(req.UUID)
		return errDummyPublish
	})

	req := domain.NewRequest("http_call", uuid.New(), domain.ActionExecute, nil, time.Minute, nil)
	registry.Add(req)
	finder.HandleNotifyResponse("worker-1", []string{"http_call"})

	tick.Run(context.Background())

	if len(*finalized) != 0 {
		t.Fatal("in this test the injected publish callback handles the failure itself; Tick itself only logs")
	}
	if req.State() != domain.StateFailure {
		t.Fatalf("expected FAILURE, got %s", req.State())
	}
}

var errDummyPublish = &domain.PublishError{RequestUUID: "test", Cause: context.DeadlineExceeded}
