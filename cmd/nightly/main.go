// Nightly CLI — запуск pipeline, мониторинг и обслуживание.
//
// Использование:
//
//	nightly [--config PATH] [--json] <command> [flags]
//
// Команды:
//
//	run       Выполнить pipeline один раз
//	monitor   Оценить здоровье pipeline
//	cleanup   Удалить файлы старше срока хранения
//	lock      Состояние и снятие блокировки run
//	report    Отчёты run
//	alerts    Поток алертов из RabbitMQ
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Nightly/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	// SIGTERM от планировщика отменяет run: отчёт всё равно сохраняется
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cli.Execute(ctx, version)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
