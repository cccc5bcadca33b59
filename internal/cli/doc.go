// Package cli реализует инструмент командной строки nightly.
//
// # Обзор
//
// CLI — основной процесс pipeline: `nightly run` выполняет шаги под
// блокировкой и пишет отчёт, `nightly monitor` оценивает здоровье.
// Планировщик запускает `nightly run --no-lock` дочерним процессом.
//
// # Ключевые компоненты
//
// ## Env
//
// Конфигурация и лениво открываемые ресурсы: пул БД, соединение
// с RabbitMQ, канал ошибок, блокировка выбранного backend'а.
// Ресурсы закрываются после выполнения команды (Execute).
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения и логи — в stderr.
//
// ## Commands
//
//   - run [--no-lock]
//   - monitor [--fail-on none|warning|critical]
//   - cleanup [--days N]
//   - lock: status, release [--force]
//   - report: list, show [RUN_ID]
//   - alerts: watch
//
// Каждая команда создаётся фабричной функцией (NewRunCmd и т.д.),
// принимающей envFn и outputFn — замыкания, возвращающие Env и Output,
// созданные после парсинга PersistentFlags.
package cli
