package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/retention"
)

// NewCleanupCmd создаёт команду ручной очистки по сроку хранения.
func NewCleanupCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete files older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()

			rc := env.Config.Retention
			if days > 0 {
				rc.Days = days
			}

			res, err := retention.New(retention.Config{
				Dirs:     rc.Dirs,
				Days:     rc.Days,
				Preserve: rc.Preserve,
				Logger:   env.Logger,
			}).Sweep(cmd.Context())

			out.Print(
				[]string{"DELETED", "PRESERVED", "KEPT"},
				[][]string{{strconv.Itoa(res.Deleted), strconv.Itoa(res.Preserved), strconv.Itoa(res.Kept)}},
				res,
			)
			return err
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Override retention.days")

	return cmd
}
