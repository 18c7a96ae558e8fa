// Package remoteworker реализует эталонного удалённого воркера: отвечает
// на пробы NOTIFY своим списком поддерживаемых tasks, получает REQUEST на
// собственной теме, подтверждает начало выполнения RUNNING, выполняет task
// через Registry и публикует терминальный RESPONSE.
//
// Это не клиентский Executor (internal/executor) — это процесс,
// исполняющий tasks на другом конце шины; они связаны только общим
// bus-протоколом (internal/mq).
package remoteworker
