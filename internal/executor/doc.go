// Package executor реализует клиентский Executor: Request Registry,
// Response Dispatcher, Maintenance Tick и фасад, связывающий их с
// mq.Proxy и discovery.Finder.
//
// Executor не хранит task-состояние на диске — весь Registry живёт в
// памяти процесса и теряется при рестарте; переживших рестарт запросов
// не бывает, они просто считаются истёкшими их отправителем.
package executor
