package steps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shaiso/Nightly/internal/config"
)

// Deps — зависимости, доступные фабрикам шагов.
type Deps struct {
	// DB — источник транзакций для sql-шагов. nil, если БД не настроена.
	DB TxBeginner

	// BaseDir — каталог, относительно которого разрешаются пути к SQL-файлам.
	BaseDir string
}

// Factory строит шаг по его декларации.
type Factory func(def config.StepDef, deps Deps) (Step, error)

// Registry — реестр фабрик шагов по типу.
//
// Потокобезопасен.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry создаёт реестр со всеми стандартными типами шагов.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(StepTypeCommand, newCommandFromDef)
	r.Register(StepTypeSQL, newSQLFromDef)
	return r
}

// Register регистрирует фабрику.
// Если фабрика с таким типом уже существует, она будет перезаписана.
func (r *Registry) Register(stepType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[stepType] = f
}

// Get возвращает фабрику по типу.
// Возвращает ErrStepNotFound, если тип не зарегистрирован.
func (r *Registry) Get(stepType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, exists := r.factories[stepType]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}
	return f, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[stepType]
	return exists
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Unregister удаляет тип из реестра.
func (r *Registry) Unregister(stepType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, stepType)
}

// Build строит шаги pipeline в порядке объявления.
func (r *Registry) Build(defs []config.StepDef, deps Deps) ([]Step, error) {
	built := make([]Step, 0, len(defs))
	for _, def := range defs {
		f, err := r.Get(def.Type)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", def.Name, err)
		}
		s, err := f(def, deps)
		if err != nil {
			return nil, err
		}
		built = append(built, s)
	}
	return built, nil
}

func newCommandFromDef(def config.StepDef, _ Deps) (Step, error) {
	return NewCommandStep(def.Name, def.Command, def.Dir, def.Env)
}

func newSQLFromDef(def config.StepDef, deps Deps) (Step, error) {
	script := def.SQL
	if def.File != "" {
		path := def.File
		if !filepath.IsAbs(path) && deps.BaseDir != "" {
			path = filepath.Join(deps.BaseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: step %q: read %s: %v", ErrInvalidConfig, def.Name, path, err)
		}
		script = string(data)
	}
	return NewSQLStep(def.Name, script, deps.DB)
}
