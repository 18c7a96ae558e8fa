package executor

import (
	"log/slog"
	"time"

	"github.com/shaiso/Automata/internal/mq"
)

// Default configuration values.
const (
	defaultTransitionTimeout = 30 * time.Second
	defaultProbePeriod       = 5 * time.Second
	defaultStaleAfter        = 3
	defaultTickInterval      = time.Second
)

// Config — конфигурация Executor.
type Config struct {
	// UUID — собственная тема участника на RPC exchange (reply_to для всех
	// исходящих REQUEST/NOTIFY).
	UUID string

	// Topics — темы обнаружения, по которым рассылается NOTIFY для поиска
	// воркеров, исполняющих tasks.
	Topics []mq.Topic

	// Conn — открытое соединение с шиной.
	Conn *mq.Connection

	// AuditRepo — опциональный получатель терминальных исходов (audit sink).
	// Если nil, terminal outcomes нигде, кроме Promise вызывающей стороны,
	// не сохраняются.
	AuditRepo AuditRecorder

	// TransitionTimeout — таймаут ожидания терминального ответа на запрос
	// (default: 30s).
	TransitionTimeout time.Duration

	// ProbePeriod — интервал между NOTIFY-пробами Worker Finder (default: 5s).
	ProbePeriod time.Duration

	// StaleAfter — число пропущенных проб подряд до вытеснения воркера
	// (default: 3).
	StaleAfter int

	// TickInterval — минимальный интервал между проходами Maintenance Tick
	// (default: 1s). Tick запускается из on_wait Proxy, который срабатывает
	// по таймеру простоя цикла приёма, поэтому это нижняя граница интервала,
	// а не гарантированный период.
	TickInterval time.Duration

	// Retry — политика retry для Publish (default: mq.DefaultRetryOptions()).
	Retry mq.RetryOptions

	Logger *slog.Logger
}
