package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/lock"
)

// NewLockCmd создаёт группу команд для блокировки run.
func NewLockCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or release the run lock",
	}

	cmd.AddCommand(
		newLockStatusCmd(envFn, outputFn),
		newLockReleaseCmd(envFn, outputFn),
	)

	return cmd
}

func newLockStatusCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show who holds the run lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()

			l, err := env.Lock(cmd.Context())
			if err != nil {
				return err
			}
			st, err := l.Status(cmd.Context())
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(st)
				return nil
			}
			out.KeyValues(lockPairs(st, time.Now()))
			return nil
		},
	}
}

func newLockReleaseCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Remove a stale run lock",
		Long: `Release removes the run lock left behind by a crashed run.

Without --force the lock is removed only when its holder is known to be dead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()
			ctx := cmd.Context()

			l, err := env.Lock(ctx)
			if err != nil {
				return err
			}

			st, err := l.Status(ctx)
			if err != nil {
				return err
			}
			if !st.Held {
				out.Success("lock is not held")
				return nil
			}

			stale := st.HolderAlive != nil && !*st.HolderAlive
			if !force && !stale {
				return fmt.Errorf("%w (pid %d on %q); use --force to remove it anyway", ErrLockHeld, st.PID, st.Holder)
			}

			err = l.ForceRelease(ctx)
			if errors.Is(err, lock.ErrNotHeld) {
				out.Success("lock is not held")
				return nil
			}
			if err != nil {
				return err
			}

			env.Logger.Warn("run lock released manually",
				"backend", st.Backend,
				"resource", st.Resource,
				"pid", st.PID,
				"forced", force,
			)
			out.Success("lock released")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Release even if the holder may still be running")

	return cmd
}

func lockPairs(st lock.Status, now time.Time) [][2]string {
	pairs := [][2]string{
		{"Backend", st.Backend},
		{"Resource", st.Resource},
		{"Held", strconv.FormatBool(st.Held)},
	}
	if !st.Held {
		return pairs
	}

	pairs = append(pairs,
		[2]string{"Holder", st.Holder},
		[2]string{"PID", strconv.Itoa(st.PID)},
		[2]string{"Acquired", formatTime(&st.AcquiredAt)},
		[2]string{"Age", st.Age(now).Round(time.Second).String()},
	)
	if st.HolderAlive != nil {
		pairs = append(pairs, [2]string{"Holder alive", strconv.FormatBool(*st.HolderAlive)})
	}
	return pairs
}
