package executor

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/domain"
)

// Registry — реестр запросов, ожидающих финального ответа, адресуемых по
// uuid. Аналог Orchestrator.activeRuns у оркестратора, но ключом служит
// request uuid, а не run id, и хранятся указатели на Request, а не записи
// о запуске.
type Registry struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*domain.Request
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{requests: make(map[uuid.UUID]*domain.Request)}
}

// Add регистрирует req. Возвращает ErrDuplicateRequest, если uuid уже занят.
func (r *Registry) Add(req *domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.UUID]; exists {
		return domain.ErrDuplicateRequest
	}
	r.requests[req.UUID] = req
	return nil
}

// Get возвращает запрос по uuid.
func (r *Registry) Get(id uuid.UUID) (*domain.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	return req, ok
}

// Remove удаляет запрос из реестра. No-op, если его там нет.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, id)
}

// Snapshot возвращает копию текущих ключей — для итерации Maintenance Tick
// без удержания мьютекса на всё время обхода.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.requests))
	for id := range r.requests {
		ids = append(ids, id)
	}
	return ids
}

// Len возвращает число запросов в реестре.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
