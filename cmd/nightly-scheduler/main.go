// Nightly scheduler — долгоживущий демон ежедневного запуска pipeline.
//
// Каждые scheduler.poll_interval проверяет расписание; в срок захватывает
// блокировку, запускает `nightly run --no-lock` отдельным процессом и после
// успешного завершения выполняет очистку по сроку хранения.
//
// HTTP: /healthz, /metrics, /api/v1/*.
//
// Переменные окружения: NIGHTLY_CONFIG (путь к конфигурации), а также
// DB_URL, RABBITMQ_URL, NIGHTLY_HTTP_ADDR, LOG_LEVEL, LOG_FORMAT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Nightly/internal/api"
	"github.com/shaiso/Nightly/internal/config"
	"github.com/shaiso/Nightly/internal/lock"
	"github.com/shaiso/Nightly/internal/report"
	"github.com/shaiso/Nightly/internal/repo"
	"github.com/shaiso/Nightly/internal/retention"
	"github.com/shaiso/Nightly/internal/scheduler"
	"github.com/shaiso/Nightly/internal/telemetry"
)

var startTime = time.Now()

type pipelineLock interface {
	lock.Locker
	lock.Inspector
}

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting nightly-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger)
	cancel()

	if err != nil {
		logger.Error("scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	configPath := config.DefaultPath
	if v := os.Getenv("NIGHTLY_CONFIG"); v != "" {
		configPath = v
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, "nightly-scheduler")
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	sched, err := scheduler.ParseSchedule(cfg.Scheduler)
	if err != nil {
		return err
	}

	var pl pipelineLock
	switch cfg.Lock.Backend {
	case config.LockBackendPostgres:
		pool, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to database")
		pl = lock.NewAdvisoryLock(pool, cfg.Lock.AdvisoryKey)
	default:
		pl = lock.NewFileLock(cfg.Paths.LockFile)
	}

	command := cfg.Scheduler.Command
	if len(command) == 0 {
		command = scheduler.DefaultCommand(configPath)
	}
	launcher, err := scheduler.NewProcessLauncher(scheduler.LauncherConfig{
		Command: command,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	s := scheduler.New(scheduler.Config{
		Schedule: sched,
		Location: cfg.Scheduler.Location(),
		Lock:     pl,
		Launcher: launcher,
		Cleaner: retention.New(retention.Config{
			Dirs:     cfg.Retention.Dirs,
			Days:     cfg.Retention.Days,
			Preserve: cfg.Retention.Preserve,
			Logger:   logger,
		}),
		PollInterval: cfg.Scheduler.PollInterval,
		Logger:       logger,
	})

	handler := api.NewHandler(api.Config{
		Reports:  report.NewFileStore(cfg.Paths.ReportsDir),
		Lock:     pl,
		Schedule: s,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/", handler.Routes())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
