// Package mq публикует события pipeline в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — события run.finished и alert.raised
//   - consumer.go   — потребление очередей (nightly alerts watch)
//
// Брокер не обязателен: без rabbitmq.url события не публикуются,
// а run и мониторинг работают как обычно.
package mq
