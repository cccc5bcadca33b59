package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/config"
)

// Execute выполняет команду из os.Args и закрывает ресурсы окружения
// независимо от её результата.
func Execute(ctx context.Context, version string) error {
	root, closeEnv := NewRootCmd(version)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, closeEnv())
}

// NewRootCmd собирает дерево команд nightly. Вторым значением возвращается
// функция, закрывающая ресурсы окружения после выполнения.
func NewRootCmd(version string) (*cobra.Command, func() error) {
	var (
		configPath string
		jsonOutput bool

		env *Env
		out *Output
	)

	rootCmd := &cobra.Command{
		Use:           "nightly",
		Short:         "Nightly — batch pipeline runner and health monitor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			out = NewOutput(jsonOutput, cmd.OutOrStdout(), cmd.ErrOrStderr())

			e, err := LoadEnv(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			env = e
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	envFn := func() *Env { return env }
	outputFn := func() *Output { return out }

	rootCmd.AddCommand(
		NewRunCmd(envFn, outputFn),
		NewMonitorCmd(envFn, outputFn),
		NewCleanupCmd(envFn, outputFn),
		NewLockCmd(envFn, outputFn),
		NewReportCmd(envFn, outputFn),
		NewAlertsCmd(envFn, outputFn),
	)

	closeEnv := func() error {
		if env == nil {
			return nil
		}
		return env.Close()
	}

	return rootCmd, closeEnv
}
