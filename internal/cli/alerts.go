package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nightly/internal/domain"
	"github.com/shaiso/Nightly/internal/mq"
)

// NewAlertsCmd создаёт группу команд для алертов.
func NewAlertsCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Follow monitoring alerts",
	}

	cmd.AddCommand(newAlertsWatchCmd(envFn, outputFn))

	return cmd
}

func newAlertsWatchCmd(envFn func() *Env, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print alerts from the alerts.raised queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env := envFn()
			out := outputFn()
			ctx := cmd.Context()

			conn, err := env.Broker(ctx)
			if err != nil {
				return err
			}

			consumer := mq.NewConsumer(conn, mq.ConsumerConfig{
				Queue:   mq.QueueAlertsRaised,
				Handler: alertPrinter(out),
				Logger:  env.Logger,
			})

			out.Success("watching " + string(mq.QueueAlertsRaised) + " (Ctrl-C to stop)")
			err = consumer.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// alertPrinter выводит каждый алерт одной строкой (или JSON-объектом).
func alertPrinter(out *Output) mq.Handler {
	return func(_ context.Context, msg *mq.Message) error {
		if msg.Type != mq.MessageTypeAlertRaised {
			return nil
		}

		a, err := mq.ParsePayload[domain.Alert](msg)
		if err != nil {
			return err
		}

		if out.IsJSON() {
			out.JSON(a)
			return nil
		}
		out.Line("%s  %-8s  %-15s  %s", formatTime(&a.Timestamp), a.Severity, a.Check, a.Message)
		return nil
	}
}
