package worker

import "errors"

// Ошибки выполнения шагов.
var (
	// ErrStepPanicked — шаг завершился паникой; попытка считается неудачной.
	ErrStepPanicked = errors.New("step panicked")

	// ErrRetryExhausted — все попытки шага исчерпаны.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)
