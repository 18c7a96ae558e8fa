package remoteworker

import (
	"context"
	"fmt"

	"github.com/shaiso/Automata/internal/mq"
)

// ProgressFunc публикует промежуточное EVENT-сообщение по ходу выполнения
// task. Вызывающая сторона (Worker) транслирует его в RESPONSE с
// state=EVENT; executor не знает про шину напрямую.
type ProgressFunc func(eventType string, details map[string]any)

// ExecutionRequest — то, что Worker передаёт конкретному Executor по
// содержимому REQUEST.
type ExecutionRequest struct {
	TaskUUID  string
	Action    mq.RequestAction
	Arguments map[string]any

	// Result/Failures заполнены только для Action == ActionRevert — итог
	// исходного выполнения, который executor должен откатить.
	Result   any
	Failures map[string]any
}

// ExecutionResult — результат выполнения конкретного task.
type ExecutionResult struct {
	// Result — данные успеха, передаются обратно в data.result RESPONSE.
	Result any

	// Failure — логический (не инфраструктурный) отказ выполнения; ненулевой
	// Failure при нулевой error означает RESPONSE FAILURE с data.failure.
	Failure map[string]any
}

// Executor — интерфейс для выполнения одного типа task.
//
// Реализации: HTTPExecutor, DelayExecutor.
type Executor interface {
	Execute(ctx context.Context, req *ExecutionRequest, progress ProgressFunc) (*ExecutionResult, error)
}

// Registry — реестр executor'ов по task_name, объявляемых в NOTIFY_RESPONSE.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register добавляет executor для task_name.
func (r *Registry) Register(taskName string, executor Executor) {
	r.executors[taskName] = executor
}

// Get возвращает executor для task_name.
func (r *Registry) Get(taskName string) (Executor, error) {
	executor, ok := r.executors[taskName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskName)
	}
	return executor, nil
}

// TaskNames возвращает список зарегистрированных task_name — объявляется
// воркером в NOTIFY_RESPONSE.
func (r *Registry) TaskNames() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	return names
}
