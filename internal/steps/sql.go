package steps

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StepTypeSQL — шаг, выполняющий SQL-скрипт.
const StepTypeSQL = "sql"

// TxBeginner — источник транзакций. Реализуется *pgxpool.Pool и pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SQLStep — шаг, выполняющий SQL-скрипт в одной транзакции.
//
// Конфигурация:
//
//	- name: warehouse_load
//	  type: sql
//	  file: sql/warehouse_load.sql   # или sql: "INSERT ..."
//
// Скрипт без параметров выполняется через simple protocol,
// поэтому допускает несколько statements. Любая ошибка откатывает транзакцию.
type SQLStep struct {
	name string
	sql  string
	db   TxBeginner
}

// NewSQLStep создаёт SQLStep.
func NewSQLStep(name, sql string, db TxBeginner) (*SQLStep, error) {
	if sql == "" {
		return nil, fmt.Errorf("%w: step %q: sql is empty", ErrInvalidConfig, name)
	}
	if db == nil {
		return nil, fmt.Errorf("%w: step %q: database is not configured", ErrInvalidConfig, name)
	}
	return &SQLStep{name: name, sql: sql, db: db}, nil
}

// Name возвращает имя шага.
func (s *SQLStep) Name() string {
	return s.name
}

// Run выполняет скрипт и фиксирует транзакцию.
func (s *SQLStep) Run(ctx context.Context) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, s.sql); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
