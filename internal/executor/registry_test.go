package executor

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/domain"
)

func newTestRequest() *domain.Request {
	return domain.NewRequest("http_call", uuid.New(), domain.ActionExecute, nil, time.Second, nil)
}

func TestRegistry_AddAndGet(t *testing.T) {
	r := NewRegistry()
	req := newTestRequest()

	if err := r.Add(req); err != nil {
		t.Fatalf("unexpected error adding request: %v", err)
	}

	got, ok := r.Get(req.UUID)
	if !ok || got != req {
		t.Fatal("expected to retrieve the exact request just added")
	}
}

func TestRegistry_AddDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	req := newTestRequest()

	if err := r.Add(req); err != nil {
		t.Fatalf("unexpected error on first add: %v", err)
	}
	if err := r.Add(req); err != domain.ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestRegistry_RemoveThenGetMisses(t *testing.T) {
	r := NewRegistry()
	req := newTestRequest()
	r.Add(req)
	r.Remove(req.UUID)

	if _, ok := r.Get(req.UUID); ok {
		t.Fatal("expected request to be gone after Remove")
	}
}

func TestRegistry_SnapshotAndLen(t *testing.T) {
	r := NewRegistry()
	a, b := newTestRequest(), newTestRequest()
	r.Add(a)
	r.Add(b)

	if r.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", r.Len())
	}
	ids := r.Snapshot()
	if len(ids) != 2 {
		t.Fatalf("expected Snapshot of 2, got %d", len(ids))
	}
}
