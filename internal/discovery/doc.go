// Package discovery реализует Worker Finder: периодический probe по темам
// обнаружения, учёт воркеров по task-name и выбор воркера для запроса.
package discovery
