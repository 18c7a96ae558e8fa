package discovery

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Automata/internal/mq"
)

// Default configuration values.
const (
	defaultProbePeriod = 5 * time.Second
	defaultStaleAfter  = 3
)

// workerInfo — дескриптор одного известного воркера.
type workerInfo struct {
	topic    mq.Topic
	tasks    map[string]bool
	lastSeen time.Time
	misses   int
}

// Publisher — то, что Finder использует для рассылки NOTIFY-проб.
// Реализуется *mq.Proxy; выделено в интерфейс ради тестируемости.
type Publisher interface {
	Publish(ctx context.Context, msgType mq.MessageType, topic mq.Topic, replyTo mq.Topic, correlationID string, body map[string]any) error
}

// Finder — Worker Finder: владеет Worker Table и периодическим probe.
type Finder struct {
	ownTopic mq.Topic
	topics   []mq.Topic
	proxy    Publisher
	logger   *slog.Logger

	probePeriod time.Duration
	staleAfter  int

	mu      sync.RWMutex
	cond    *sync.Cond
	workers map[mq.Topic]*workerInfo
}

// Config — конфигурация Finder.
type Config struct {
	OwnTopic    mq.Topic
	Topics      []mq.Topic
	Proxy       Publisher
	Logger      *slog.Logger
	ProbePeriod time.Duration
	StaleAfter  int
}

// New создаёт Finder.
func New(cfg Config) *Finder {
	probePeriod := cfg.ProbePeriod
	if probePeriod <= 0 {
		probePeriod = defaultProbePeriod
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Finder{
		ownTopic:    cfg.OwnTopic,
		topics:      cfg.Topics,
		proxy:       cfg.Proxy,
		logger:      logger,
		probePeriod: probePeriod,
		staleAfter:  staleAfter,
		workers:     make(map[mq.Topic]*workerInfo),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// ProbePeriod возвращает настроенный интервал между пробами.
func (f *Finder) ProbePeriod() time.Duration {
	return f.probePeriod
}

// Tick рассылает NOTIFY по всем темам обнаружения и вытесняет воркеров,
// пропустивших больше StaleAfter проб подряд.
func (f *Finder) Tick(ctx context.Context) {
	f.evictStale()

	for _, topic := range f.topics {
		err := f.proxy.Publish(ctx, mq.TypeNotify, topic, f.ownTopic, "", map[string]any{
			"topic": string(f.ownTopic),
		})
		if err != nil {
			f.logger.Debug("notify probe failed", "topic", topic, "error", err)
		}
	}
}

func (f *Finder) evictStale() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for topic, w := range f.workers {
		w.misses++
		if w.misses > f.staleAfter {
			delete(f.workers, topic)
			f.logger.Debug("evicted stale worker", "topic", topic, "misses", w.misses)
		}
	}
}

// HandleNotifyResponse регистрирует или обновляет воркера по NOTIFY_RESPONSE.
func (f *Finder) HandleNotifyResponse(topic mq.Topic, tasks []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.workers[topic]
	if !ok {
		w = &workerInfo{topic: topic, tasks: make(map[string]bool)}
		f.workers[topic] = w
	}
	w.lastSeen = time.Now()
	w.misses = 0
	w.tasks = make(map[string]bool, len(tasks))
	for _, t := range tasks {
		w.tasks[t] = true
	}

	f.cond.Broadcast()
}

// GetWorkerForTask выбирает воркера, обслуживающего taskName, стабильным
// образом по requestUUID: хэш (FNV-1a) по модулю числа подходящих воркеров,
// отсортированных по теме. Так повторные попытки одного запроса выбирают
// того же воркера, а нагрузка между запросами распределяется.
func (f *Finder) GetWorkerForTask(taskName string, requestUUID uuid.UUID) (mq.Topic, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var candidates []mq.Topic
	for topic, w := range f.workers {
		if w.tasks[taskName] {
			candidates = append(candidates, topic)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	h := fnv.New32a()
	h.Write([]byte(requestUUID.String()))
	idx := int(h.Sum32()) % len(candidates)
	if idx < 0 {
		idx += len(candidates)
	}
	return candidates[idx], true
}

// WaitForWorkers блокируется на условной переменной, пробуждаемой каждым
// HandleNotifyResponse, пока не будет обнаружено не менее minCount различных
// воркеров, либо не истечёт timeout. Возвращает недостачу (0 при успехе).
func (f *Finder) WaitForWorkers(ctx context.Context, minCount int, timeout time.Duration) int {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// cond.Wait не понимает context, поэтому будим его сами при истечении
	// ctx — иначе ожидание без новых NOTIFY_RESPONSE зависло бы навсегда.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			f.cond.Broadcast()
		case <-stop:
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.workers) < minCount && ctx.Err() == nil {
		f.cond.Wait()
	}

	if shortfall := minCount - len(f.workers); shortfall > 0 {
		return shortfall
	}
	return 0
}

// Count возвращает число известных воркеров.
func (f *Finder) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.workers)
}

// Clear сбрасывает все известные воркеры (используется при остановке).
func (f *Finder) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers = make(map[mq.Topic]*workerInfo)
}
