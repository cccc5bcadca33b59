package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nightly/internal/domain"
)

// SignalRepo — read-only запросы живых сигналов для мониторинга.
//
// Имена таблиц и колонок приходят из конфигурации и экранируются
// через pgx.Identifier; значения передаются параметрами.
type SignalRepo struct {
	pool *pgxpool.Pool
}

// NewSignalRepo создаёт новый SignalRepo.
func NewSignalRepo(pool *pgxpool.Pool) *SignalRepo {
	return &SignalRepo{pool: pool}
}

// LatestTimestamp возвращает максимальное значение колонки column в таблице table.
// Возвращает nil, если таблица пуста.
func (r *SignalRepo) LatestTimestamp(ctx context.Context, table, column string) (*time.Time, error) {
	tbl, err := identifier(table)
	if err != nil {
		return nil, err
	}
	col, err := identifier(column)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT MAX(%s) FROM %s`, col, tbl)

	var latest *time.Time
	if err := r.pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return nil, wrapQueryErr(fmt.Sprintf("latest %s.%s", table, column), err)
	}
	if latest != nil {
		t := latest.UTC()
		latest = &t
	}
	return latest, nil
}

// DailyCounts возвращает число строк по дням за последние days дней до now.
// Дни без строк в результат не попадают: ряд уплотняет monitor.EvaluateVolume.
func (r *SignalRepo) DailyCounts(ctx context.Context, table, dateColumn string, days int, now time.Time) ([]domain.VolumePoint, error) {
	tbl, err := identifier(table)
	if err != nil {
		return nil, err
	}
	col, err := identifier(dateColumn)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %[1]s::date AS day, COUNT(*)
		FROM %[2]s
		WHERE %[1]s >= $1
		GROUP BY day
		ORDER BY day
	`, col, tbl)

	since := now.UTC().AddDate(0, 0, -days)
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, wrapQueryErr("daily counts "+table, err)
	}
	defer rows.Close()

	var points []domain.VolumePoint
	for rows.Next() {
		var p domain.VolumePoint
		if err := rows.Scan(&p.Day, &p.Count); err != nil {
			return nil, fmt.Errorf("scan daily count: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("daily counts "+table, err)
	}
	return points, nil
}

// OrphanCount возвращает число строк факта, ссылающихся на отсутствующее измерение.
func (r *SignalRepo) OrphanCount(ctx context.Context, factTable, factKey, dimTable, dimKey string) (int64, error) {
	ids, err := identifiers(factTable, factKey, dimTable, dimKey)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s f
		LEFT JOIN %s d ON f.%s = d.%s
		WHERE f.%s IS NOT NULL AND d.%s IS NULL
	`, ids[0], ids[2], ids[1], ids[3], ids[1], ids[3])

	var n int64
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, wrapQueryErr("orphan count", err)
	}
	return n, nil
}

// NullCount возвращает число строк, где хотя бы одна из обязательных колонок NULL.
func (r *SignalRepo) NullCount(ctx context.Context, table string, columns []string) (int64, error) {
	if len(columns) == 0 {
		return 0, nil
	}

	tbl, err := identifier(table)
	if err != nil {
		return 0, err
	}

	conds := make([]string, len(columns))
	for i, c := range columns {
		col, err := identifier(c)
		if err != nil {
			return 0, err
		}
		conds[i] = col + " IS NULL"
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, tbl, strings.Join(conds, " OR "))

	var n int64
	if err := r.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, wrapQueryErr("null count "+table, err)
	}
	return n, nil
}

// Ping проверяет соединение: задержка SELECT 1 и число активных сессий.
func (r *SignalRepo) Ping(ctx context.Context) (domain.Connectivity, error) {
	var ping domain.Connectivity

	start := time.Now()
	var one int
	if err := r.pool.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return ping, fmt.Errorf("select 1: %w", err)
	}
	ping.Latency = time.Since(start)

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pg_stat_activity`).Scan(&ping.ActiveConnections); err != nil {
		return ping, fmt.Errorf("count connections: %w", err)
	}
	return ping, nil
}

// identifier экранирует имя вида "schema.table" или "column".
func identifier(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidIdentifier)
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

func identifiers(names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		id, err := identifier(n)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func wrapQueryErr(what string, err error) error {
	if isUndefinedObject(err) {
		return fmt.Errorf("%s: %w: %v", what, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
