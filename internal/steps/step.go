package steps

import (
	"context"
	"errors"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Step — именованная единица работы pipeline.
//
// Шаг не знает о retry, отчётах и блокировках: он выполняется
// один раз и сообщает успех или ошибку. Повторы делает worker.StepRunner.
type Step interface {
	// Name возвращает уникальное имя шага в pipeline.
	Name() string

	// Run выполняет шаг. Шаг должен проверять ctx.Done() для graceful shutdown.
	Run(ctx context.Context) error
}

// Func — адаптер функции к интерфейсу Step.
type Func struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFunc создаёт шаг из функции.
func NewFunc(name string, fn func(ctx context.Context) error) *Func {
	return &Func{name: name, fn: fn}
}

// Name возвращает имя шага.
func (f *Func) Name() string {
	return f.name
}

// Run вызывает функцию шага.
func (f *Func) Run(ctx context.Context) error {
	return f.fn(ctx)
}

// Names возвращает имена шагов в порядке объявления.
func Names(list []Step) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name()
	}
	return names
}
