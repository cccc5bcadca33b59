package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/lock"
	"github.com/shaiso/Nightly/internal/orchestrator"
	"github.com/shaiso/Nightly/internal/telemetry"
	"github.com/shaiso/Nightly/internal/worker"
)

// NewRunCmd создаёт команду однократного запуска pipeline.
func NewRunCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	var noLock bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long: `Run executes pipeline.steps in order under the run lock and writes a run report.

The first step that fails after all retries stops the run; the command then exits non-zero.
If another run holds the lock, the command logs a warning and exits 0 without running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()
			ctx := cmd.Context()

			shutdown, err := telemetry.SetupTracing(ctx, "nightly")
			if err != nil {
				return err
			}
			defer shutdown(context.WithoutCancel(ctx))

			pipeline, err := env.Pipeline(ctx)
			if err != nil {
				return err
			}

			cfg := orchestrator.Config{
				Runner: worker.New(worker.Config{
					Retry:  env.Config.Retry,
					Logger: env.Logger,
					Errors: env.ErrorChannel(),
				}),
				Store:  env.Store(),
				Logger: env.Logger,
				Errors: env.ErrorChannel(),
			}
			if p := env.Publisher(ctx); p != nil {
				cfg.Publisher = p
			}
			orch := orchestrator.New(cfg)

			execute := func(ctx context.Context) error {
				rep, err := orch.Execute(ctx, pipeline)
				if rep != nil {
					printRun(out, rep)
				}
				return err
			}

			if noLock {
				return execute(ctx)
			}

			l, err := env.Lock(ctx)
			if err != nil {
				return err
			}

			acquired, err := lock.With(ctx, l, execute)
			if !acquired && err == nil {
				env.Logger.Warn("pipeline already running, skipping")
				out.Warn("pipeline already running, run skipped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noLock, "no-lock", false, "Do not take the run lock (the caller already holds it)")

	return cmd
}

// printRun выводит итог run.
func printRun(out *Output, r *domain.RunReport) {
	if out.IsJSON() {
		out.JSON(r)
		return
	}

	out.KeyValues([][2]string{
		{"Run", r.RunID},
		{"Status", string(r.Status)},
		{"Started", formatTime(&r.StartTime)},
		{"Finished", formatTime(r.EndTime)},
		{"Duration", formatSeconds(r.TotalDurationSeconds)},
	})

	if len(r.Steps) > 0 {
		out.Line("")
		rows := make([][]string, 0, len(r.Steps))
		for _, s := range r.Steps {
			rows = append(rows, []string{
				s.Name,
				string(s.Outcome.Status),
				s.Outcome.Duration.Round(10 * time.Millisecond).String(),
				strconv.Itoa(s.Outcome.RetryAttempts),
				s.Outcome.ErrorMessage,
			})
		}
		out.Table([]string{"STEP", "STATUS", "DURATION", "RETRIES", "ERROR"}, rows)
	}

	for _, msg := range r.Errors {
		out.Line("error: %s", msg)
	}
	for _, msg := range r.Warnings {
		out.Line("warning: %s", msg)
	}
}
