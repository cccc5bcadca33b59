// Package report хранит RunReport и MonitoringReport как JSON-документы.
//
// Каждый документ пишется атомарно: во временный файл в том же каталоге,
// затем fsync и rename. Читатель видит либо предыдущую версию, либо
// полностью записанную новую.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shaiso/Nightly/internal/domain"
)

// Ошибки хранилища.
var (
	// ErrNotFound — отчёт не найден.
	ErrNotFound = errors.New("report not found")

	// ErrAlreadyExists — отчёт с таким идентификатором уже сохранён.
	ErrAlreadyExists = domain.ErrRunIDTaken

	// ErrNotFinalized — попытка сохранить незавершённый run.
	ErrNotFinalized = errors.New("run report is not finalized")
)

const (
	runPrefix      = "pipeline_execution_report_"
	runSuffix      = ".json"
	monitoringFile = "monitoring_report.json"
)

var runIDPattern = regexp.MustCompile(`^PIPE_\d{14}(_[1-9]\d{0,3})?$`)

// ValidRunID проверяет формат идентификатора run.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// FileStore — хранилище отчётов в каталоге.
type FileStore struct {
	dir string
}

// NewFileStore создаёт хранилище в каталоге dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir возвращает каталог хранилища.
func (s *FileStore) Dir() string {
	return s.dir
}

// RunPath возвращает путь к файлу отчёта run.
func (s *FileStore) RunPath(runID string) string {
	return filepath.Join(s.dir, runPrefix+runID+runSuffix)
}

// SaveRun сохраняет финализированный отчёт. Существующий файл никогда
// не перезаписывается: занятый идентификатор — ErrAlreadyExists.
func (s *FileStore) SaveRun(_ context.Context, r *domain.RunReport) error {
	if !r.IsFinished() {
		return fmt.Errorf("%w: %s", ErrNotFinalized, r.RunID)
	}
	if !runIDPattern.MatchString(r.RunID) {
		return fmt.Errorf("invalid run id %q", r.RunID)
	}

	err := writeJSONExclusive(s.RunPath(r.RunID), r)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, r.RunID)
	}
	return err
}

// GetRun читает отчёт по идентификатору.
func (s *FileStore) GetRun(_ context.Context, runID string) (*domain.RunReport, error) {
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return readRun(s.RunPath(runID))
}

// LatestRun возвращает самый свежий отчёт.
// Возвращает ErrNotFound, если отчётов нет.
func (s *FileStore) LatestRun(ctx context.Context) (*domain.RunReport, error) {
	ids, err := s.runIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.GetRun(ctx, ids[len(ids)-1])
}

// ListRuns возвращает до limit отчётов, новые первыми. limit <= 0 — все.
func (s *FileStore) ListRuns(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	ids, err := s.runIDs()
	if err != nil {
		return nil, err
	}

	reports := make([]*domain.RunReport, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if limit > 0 && len(reports) >= limit {
			break
		}
		r, err := s.GetRun(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// SaveMonitoring перезаписывает последний отчёт мониторинга.
func (s *FileStore) SaveMonitoring(_ context.Context, r *domain.MonitoringReport) error {
	return writeJSON(filepath.Join(s.dir, monitoringFile), r)
}

// LatestMonitoring читает последний отчёт мониторинга.
func (s *FileStore) LatestMonitoring(_ context.Context) (*domain.MonitoringReport, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, monitoringFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read monitoring report: %w", err)
	}

	var r domain.MonitoringReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode monitoring report: %w", err)
	}
	return &r, nil
}

// runIDs возвращает идентификаторы сохранённых run по возрастанию.
// Временные файлы незавершённой записи не попадают под шаблон.
func (s *FileStore) runIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, runPrefix) || !strings.HasSuffix(name, runSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, runPrefix), runSuffix)
		if runIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return runIDLess(ids[i], ids[j]) })
	return ids, nil
}

// runIDLess упорядочивает идентификаторы по времени старта, затем по суффиксу.
func runIDLess(a, b string) bool {
	aBase, aSeq := splitRunID(a)
	bBase, bSeq := splitRunID(b)
	if aBase != bBase {
		return aBase < bBase
	}
	return aSeq < bSeq
}

func splitRunID(id string) (string, int) {
	base, suffix, found := strings.Cut(strings.TrimPrefix(id, "PIPE_"), "_")
	if !found {
		return base, 1
	}
	seq, err := strconv.Atoi(suffix)
	if err != nil {
		return base, 1
	}
	return base, seq
}

func readRun(path string) (*domain.RunReport, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	var r domain.RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// writeJSON атомарно записывает v в path, заменяя прежнюю версию.
func writeJSON(path string, v any) error {
	tmpName, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}

// writeJSONExclusive атомарно создаёт path с содержимым v.
// Если path уже существует, возвращает ошибку, удовлетворяющую os.ErrExist.
func writeJSONExclusive(path string, v any) error {
	tmpName, err := writeTemp(path, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)

	// link не заменяет существующий файл, в отличие от rename
	if err := os.Link(tmpName, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		return fmt.Errorf("link report: %w", err)
	}
	return nil
}

// writeTemp пишет v во временный файл рядом с path и возвращает его имя.
func writeTemp(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("chmod temp file: %w", err)
	}

	ok = true
	return tmpName, nil
}
