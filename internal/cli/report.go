package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/report"
)

// NewReportCmd создаёт группу команд для отчётов run.
func NewReportCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect run reports",
	}

	cmd.AddCommand(
		newReportListCmd(envFn, outputFn),
		newReportShowCmd(envFn, outputFn),
	)

	return cmd
}

func newReportListCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()

			runs, err := env.Store().ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "STATUS", "STARTED", "DURATION", "STEPS", "ERRORS"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.RunID,
					string(r.Status),
					formatTime(&r.StartTime),
					formatSeconds(r.TotalDurationSeconds),
					strconv.Itoa(len(r.Steps)),
					strconv.Itoa(len(r.Errors)),
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of runs (0 — all)")

	return cmd
}

func newReportShowCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show [RUN_ID]",
		Short: "Show a run report (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env := envFn()
			out := outputFn()
			store := env.Store()

			var (
				r   *domain.RunReport
				err error
			)
			if len(args) == 1 {
				if !report.ValidRunID(args[0]) {
					return fmt.Errorf("invalid run id %q (expected PIPE_YYYYMMDDHHMMSS[_N])", args[0])
				}
				r, err = store.GetRun(cmd.Context(), args[0])
			} else {
				r, err = store.LatestRun(cmd.Context())
			}
			if errors.Is(err, report.ErrNotFound) && len(args) == 0 {
				return fmt.Errorf("no runs recorded in %s", store.Dir())
			}
			if err != nil {
				return err
			}

			printRun(out, r)
			return nil
		},
	}
}
