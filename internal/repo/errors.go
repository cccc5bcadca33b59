package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — таблица или колонка не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidIdentifier — некорректное имя таблицы или колонки.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// SQLSTATE коды PostgreSQL.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// isUndefinedObject проверяет, что ошибка — отсутствующая таблица или колонка.
func isUndefinedObject(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedColumn
	}
	return false
}
