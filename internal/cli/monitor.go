package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/monitor"
	"github.com/shaiso/Nightly/internal/repo"
	"github.com/shaiso/Nightly/internal/telemetry"
)

// Пороги --fail-on.
const (
	failOnNone     = "none"
	failOnWarning  = "warning"
	failOnCritical = "critical"
)

// NewMonitorCmd создаёт команду оценки здоровья pipeline.
func NewMonitorCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	var failOn string

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Evaluate pipeline health and write the monitoring report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch failOn {
			case failOnNone, failOnWarning, failOnCritical:
			default:
				return fmt.Errorf("--fail-on must be one of none, warning, critical")
			}

			env := envFn()
			out := outputFn()
			ctx := cmd.Context()

			shutdown, err := telemetry.SetupTracing(ctx, "nightly")
			if err != nil {
				return err
			}
			defer shutdown(context.WithoutCancel(ctx))

			cfg := monitor.Config{
				Monitor: env.Config.Monitor,
				Reports: env.Store(),
				Store:   env.Store(),
				Logger:  env.Logger,
				Errors:  env.ErrorChannel(),
			}

			// недоступная БД — результат проверки connectivity, а не ошибка команды
			pool, err := env.LazyPool(ctx)
			switch {
			case err == nil:
				cfg.Signals = repo.NewSignalRepo(pool)
			case !errors.Is(err, ErrNoDatabase):
				env.Logger.Warn("backing store unavailable", "error", err)
			}

			if p := env.Publisher(ctx); p != nil {
				cfg.Publisher = p
			}

			rep, err := monitor.New(cfg).Run(ctx)
			if rep != nil {
				printMonitoring(out, rep)
			}
			if err != nil {
				return err
			}

			return checkFailOn(rep, failOn)
		},
	}

	cmd.Flags().StringVar(&failOn, "fail-on", failOnNone, "Exit non-zero on alerts of this severity or worse (none, warning, critical)")

	return cmd
}

func checkFailOn(rep *domain.MonitoringReport, failOn string) error {
	switch {
	case failOn == failOnCritical && rep.CriticalAlerts() > 0:
		return fmt.Errorf("%w: %d critical alerts", ErrUnhealthy, rep.CriticalAlerts())
	case failOn == failOnWarning && len(rep.Alerts) > 0:
		return fmt.Errorf("%w: %d alerts", ErrUnhealthy, len(rep.Alerts))
	}
	return nil
}

func printMonitoring(out *Output, rep *domain.MonitoringReport) {
	if out.IsJSON() {
		out.JSON(rep)
		return
	}

	names := make([]string, 0, len(rep.Checks))
	for name := range rep.Checks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return checkOrder(names[i]) < checkOrder(names[j]) })

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		res := rep.Checks[name]
		note := res.Error
		if note == "" {
			note = summarizeDetails(name, res.Details)
		}
		rows = append(rows, []string{name, string(res.Status), note})
	}
	out.Table([]string{"CHECK", "STATUS", "DETAILS"}, rows)

	out.Line("")
	out.Line("health: %s (score %d, %d alerts)", rep.PipelineHealth, rep.HealthScore, len(rep.Alerts))
}

func checkOrder(name string) int {
	for i, n := range domain.CheckNames {
		if n == name {
			return i
		}
	}
	return len(domain.CheckNames)
}

// summarizeDetails — одна строка ключевых метрик проверки.
func summarizeDetails(check string, d map[string]any) string {
	key := map[string]string{
		domain.CheckLastExecution: "hours_since_last_run",
		domain.CheckDataFreshness: "max_lag_hours",
		domain.CheckVolumeAnomaly: "actual_count",
		domain.CheckDataQuality:   "quality_score",
		domain.CheckConnectivity:  "response_time_ms",
	}[check]

	v, ok := d[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprintf("%s=%v", key, v)
}
