package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunFailed — run завершился со статусом failed.
	ErrRunFailed = errors.New("pipeline run failed")

	// ErrNoSteps — pipeline не содержит шагов.
	ErrNoSteps = errors.New("pipeline has no steps")

	// ErrDuplicateStep — два шага с одинаковым именем.
	ErrDuplicateStep = errors.New("duplicate step name")
)
