package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Ошибки жизненного цикла отчёта.
var (
	// ErrReportFinalized — отчёт уже финализирован и не может изменяться.
	ErrReportFinalized = errors.New("run report already finalized")

	// ErrStepAfterFailure — попытка записать шаг после окончательно упавшего.
	ErrStepAfterFailure = errors.New("step recorded after failed step")

	// ErrRunIDTaken — под этим идентификатором уже сохранён другой run.
	ErrRunIDTaken = errors.New("run id already taken")
)

// runIDLayout — формат времени в идентификаторе run.
const runIDLayout = "20060102150405"

// NewRunID формирует идентификатор run из времени старта (UTC).
// Идентификаторы сортируются лексикографически в порядке запуска.
func NewRunID(t time.Time) string {
	return "PIPE_" + t.UTC().Format(runIDLayout)
}

// RunIDWithSeq формирует идентификатор для seq-го run, стартовавшего
// в ту же секунду: PIPE_<время>_<seq>. seq <= 1 — идентификатор без суффикса.
func RunIDWithSeq(t time.Time, seq int) string {
	if seq <= 1 {
		return NewRunID(t)
	}
	return NewRunID(t) + "_" + strconv.Itoa(seq)
}

// StepOutcome — результат выполнения одного шага.
type StepOutcome struct {
	// Status — success или failed.
	Status StepStatus

	// Duration — wall-clock время по всем попыткам, включая backoff.
	Duration time.Duration

	// RetryAttempts — число неудачных попыток.
	// После исчерпания попыток равно max_retries; отмена run может оборвать раньше.
	RetryAttempts int

	// ErrorMessage — текст последней ошибки. Пустой для success.
	ErrorMessage string
}

// IsFailed возвращает true, если шаг окончательно упал.
func (o StepOutcome) IsFailed() bool {
	return o.Status == StepStatusFailed
}

type stepOutcomeJSON struct {
	Status          StepStatus `json:"status"`
	DurationSeconds float64    `json:"duration_seconds"`
	RetryAttempts   int        `json:"retry_attempts"`
	ErrorMessage    *string    `json:"error_message"`
}

// MarshalJSON сериализует длительность в секундах, error_message = null для success.
func (o StepOutcome) MarshalJSON() ([]byte, error) {
	v := stepOutcomeJSON{
		Status:          o.Status,
		DurationSeconds: roundSeconds(o.Duration),
		RetryAttempts:   o.RetryAttempts,
	}
	if o.ErrorMessage != "" {
		msg := o.ErrorMessage
		v.ErrorMessage = &msg
	}
	return json.Marshal(v)
}

// UnmarshalJSON — обратное преобразование к MarshalJSON.
func (o *StepOutcome) UnmarshalJSON(data []byte) error {
	var v stepOutcomeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Status = v.Status
	o.Duration = time.Duration(v.DurationSeconds * float64(time.Second))
	o.RetryAttempts = v.RetryAttempts
	o.ErrorMessage = ""
	if v.ErrorMessage != nil {
		o.ErrorMessage = *v.ErrorMessage
	}
	return nil
}

// NamedOutcome — результат шага вместе с его именем.
type NamedOutcome struct {
	Name    string
	Outcome StepOutcome
}

// StepOutcomes — упорядоченное отображение имя шага → результат.
//
// В JSON сериализуется как объект, ключи идут в порядке объявления шагов
// (encoding/json для map сортирует ключи, поэтому map здесь не подходит).
type StepOutcomes []NamedOutcome

// Get возвращает результат шага по имени.
func (s StepOutcomes) Get(name string) (StepOutcome, bool) {
	for _, o := range s {
		if o.Name == name {
			return o.Outcome, true
		}
	}
	return StepOutcome{}, false
}

// Names возвращает имена шагов в порядке выполнения.
func (s StepOutcomes) Names() []string {
	names := make([]string, len(s))
	for i, o := range s {
		names[i] = o.Name
	}
	return names
}

// MarshalJSON сохраняет порядок шагов.
func (s StepOutcomes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, o := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(o.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(o.Outcome)
		if err != nil {
			return nil, fmt.Errorf("marshal step %q: %w", o.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON читает объект, сохраняя порядок ключей.
func (s *StepOutcomes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("steps_executed: expected object, got %v", tok)
	}

	var out StepOutcomes
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("steps_executed: expected key, got %v", tok)
		}

		var outcome StepOutcome
		if err := dec.Decode(&outcome); err != nil {
			return fmt.Errorf("steps_executed[%s]: %w", name, err)
		}
		out = append(out, NamedOutcome{Name: name, Outcome: outcome})
	}

	// закрывающая '}'
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}

// RunReport — отчёт об одном выполнении pipeline.
//
// Создаётся при старте оркестратора, дополняется по шагам,
// финализируется и сохраняется ровно один раз. После записи не изменяется.
type RunReport struct {
	// RunID — идентификатор run, производный от времени старта.
	RunID string `json:"pipeline_execution_id"`

	// StartTime — время старта (UTC).
	StartTime time.Time `json:"start_time"`

	// EndTime — время завершения (UTC). Nil, пока run выполняется.
	EndTime *time.Time `json:"end_time"`

	// TotalDurationSeconds — длительность run. Nil, пока run выполняется.
	TotalDurationSeconds *float64 `json:"total_duration_seconds"`

	// Status — running, success или failed.
	Status RunStatus `json:"status"`

	// Steps — результаты шагов в порядке объявления.
	// После первого failed шага записей нет (fail-fast).
	Steps StepOutcomes `json:"steps_executed"`

	// Errors — человекочитаемые описания ошибок.
	Errors []string `json:"errors"`

	// Warnings — предупреждения (например, шаг прошёл только после retry).
	Warnings []string `json:"warnings"`
}

// NewRunReport создаёт отчёт в статусе running.
func NewRunReport(start time.Time) *RunReport {
	start = start.UTC()
	return &RunReport{
		RunID:     NewRunID(start),
		StartTime: start,
		Status:    RunStatusRunning,
		Steps:     StepOutcomes{},
		Errors:    []string{},
		Warnings:  []string{},
	}
}

// IsFinished возвращает true, если отчёт финализирован.
func (r *RunReport) IsFinished() bool {
	return r.Status.IsTerminal()
}

// HasFailedStep возвращает true, если уже записан упавший шаг.
func (r *RunReport) HasFailedStep() bool {
	for _, o := range r.Steps {
		if o.Outcome.IsFailed() {
			return true
		}
	}
	return false
}

// RecordStep добавляет результат шага.
func (r *RunReport) RecordStep(name string, outcome StepOutcome) error {
	if r.IsFinished() {
		return ErrReportFinalized
	}
	if r.HasFailedStep() {
		return fmt.Errorf("%w: %s", ErrStepAfterFailure, name)
	}
	r.Steps = append(r.Steps, NamedOutcome{Name: name, Outcome: outcome})
	return nil
}

// AddError добавляет ошибку. Run с ошибками финализируется как failed.
func (r *RunReport) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning добавляет предупреждение.
func (r *RunReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Finalize фиксирует время завершения и итоговый статус:
// failed, если есть ошибки, иначе success.
func (r *RunReport) Finalize(end time.Time) error {
	if r.IsFinished() {
		return ErrReportFinalized
	}

	end = end.UTC()
	total := roundSeconds(end.Sub(r.StartTime))

	r.EndTime = &end
	r.TotalDurationSeconds = &total

	if len(r.Errors) > 0 || r.HasFailedStep() {
		r.Status = RunStatusFailed
	} else {
		r.Status = RunStatusSuccess
	}
	return nil
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *RunReport) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// LastActivity возвращает время завершения, а для незавершённого run — время старта.
func (r *RunReport) LastActivity() time.Time {
	if r.EndTime != nil {
		return *r.EndTime
	}
	return r.StartTime
}

// roundSeconds округляет длительность до сотых долей секунды.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
