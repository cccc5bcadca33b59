package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Nightly/internal/config"
	"github.com/shaiso/Nightly/internal/lock"
	"github.com/shaiso/Nightly/internal/mq"
	"github.com/shaiso/Nightly/internal/report"
	"github.com/shaiso/Nightly/internal/repo"
	"github.com/shaiso/Nightly/internal/steps"
	"github.com/shaiso/Nightly/internal/telemetry"
)

// PipelineLock — блокировка run с диагностикой.
type PipelineLock interface {
	lock.Locker
	lock.Inspector
}

// Env — окружение команды: конфигурация и лениво открываемые ресурсы.
type Env struct {
	ConfigPath string
	Config     config.Config
	Logger     *slog.Logger

	errors *telemetry.ErrorChannel
	pool   *pgxpool.Pool
	conn   *mq.Connection
}

// LoadEnv загружает конфигурацию и настраивает логгер поверх logW.
func LoadEnv(configPath string, logW io.Writer) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(logW, os.Getenv("LOG_FORMAT"), telemetry.LogLevel())
	slog.SetDefault(logger)

	return &Env{ConfigPath: configPath, Config: cfg, Logger: logger}, nil
}

// ErrorChannel открывает канал ошибок в paths.log_dir. Если файл недоступен,
// ошибки пишутся в основной логгер.
func (e *Env) ErrorChannel() *telemetry.ErrorChannel {
	if e.errors != nil {
		return e.errors
	}

	ch, err := telemetry.OpenErrorChannel(e.Config.Paths.LogDir)
	if err != nil {
		e.Logger.Warn("error channel unavailable, using main log", "error", err)
		ch = telemetry.NewErrorChannel(e.Logger)
	}
	e.errors = ch
	return ch
}

// Store возвращает хранилище отчётов.
func (e *Env) Store() *report.FileStore {
	return report.NewFileStore(e.Config.Paths.ReportsDir)
}

// Pool возвращает пул БД с проверкой соединения.
func (e *Env) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.pool != nil {
		return e.pool, nil
	}
	if e.Config.Database.URL == "" {
		return nil, ErrNoDatabase
	}

	pool, err := repo.NewPool(ctx, e.Config.Database.URL, e.Config.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	e.pool = pool
	return pool, nil
}

// LazyPool возвращает пул без проверки соединения.
func (e *Env) LazyPool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.pool != nil {
		return e.pool, nil
	}
	if e.Config.Database.URL == "" {
		return nil, ErrNoDatabase
	}

	pool, err := repo.OpenPool(ctx, e.Config.Database.URL, e.Config.Database.MaxConns)
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return pool, nil
}

// Broker подключается к RabbitMQ и объявляет топологию.
func (e *Env) Broker(ctx context.Context) (*mq.Connection, error) {
	if e.conn != nil {
		return e.conn, nil
	}
	if e.Config.RabbitMQ.URL == "" {
		return nil, ErrNoBroker
	}

	conn, err := mq.Dial(e.Config.RabbitMQ.URL, e.Logger)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup topology: %w", err)
	}
	e.Logger.Debug("rabbitmq topology declared", "topology", mq.TopologyInfo())
	e.conn = conn
	return conn, nil
}

// Publisher возвращает publisher событий или nil, если брокер
// не настроен или недоступен. Недоступность брокера не мешает run.
func (e *Env) Publisher(ctx context.Context) *mq.Publisher {
	conn, err := e.Broker(ctx)
	if errors.Is(err, ErrNoBroker) {
		return nil
	}
	if err != nil {
		e.Logger.Warn("event publishing disabled", "error", err)
		return nil
	}
	return mq.NewPublisher(conn, e.Logger)
}

// Lock возвращает блокировку run согласно lock.backend.
func (e *Env) Lock(ctx context.Context) (PipelineLock, error) {
	switch e.Config.Lock.Backend {
	case config.LockBackendPostgres:
		pool, err := e.Pool(ctx)
		if err != nil {
			return nil, err
		}
		return lock.NewAdvisoryLock(pool, e.Config.Lock.AdvisoryKey), nil
	default:
		return lock.NewFileLock(e.Config.Paths.LockFile), nil
	}
}

// Pipeline строит шаги из pipeline.steps. Пул БД открывается,
// только если есть sql-шаги.
func (e *Env) Pipeline(ctx context.Context) ([]steps.Step, error) {
	defs := e.Config.Pipeline.Steps

	deps := steps.Deps{BaseDir: filepath.Dir(e.ConfigPath)}
	for _, def := range defs {
		if def.Type == steps.StepTypeSQL {
			pool, err := e.Pool(ctx)
			if err != nil {
				return nil, err
			}
			deps.DB = pool
			break
		}
	}

	return steps.DefaultRegistry().Build(defs, deps)
}

// Close освобождает открытые ресурсы.
func (e *Env) Close() error {
	var errs []error
	if e.conn != nil {
		errs = append(errs, e.conn.Close())
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.errors != nil {
		errs = append(errs, e.errors.Close())
	}
	return errors.Join(errs...)
}
