// Package mq предоставляет интеграцию с RabbitMQ для bus-протокола
// исполнителя.
//
// Включает:
//   - connection.go — управление подключением с auto-reconnect
//   - topology.go   — декларация exchanges и очередей
//   - messages.go   — envelope и тела сообщений (NOTIFY, REQUEST, RESPONSE, ...)
//   - proxy.go       — Proxy: publish/start/stop/wait поверх topology
package mq
