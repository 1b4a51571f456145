package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meetsync/internal/models"
)

func init() {
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <kind:id> <message...>",
	Short: "Queue a message and wait until the outbox has delivered it",
	Long: `send appends the message to the persistent outbox and drains it.
Messages left over from earlier runs go out first, in order.

Example:
  meetsync send group:12 hello everyone`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := models.ParseRef(args[0])
		if err != nil {
			return err
		}
		body := strings.TrimSpace(strings.Join(args[1:], " "))
		if body == "" {
			return fmt.Errorf("message body is required")
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		me, err := a.me(ctx)
		if err != nil {
			return err
		}
		engine, err := a.engine(ctx, me, nil)
		if err != nil {
			return err
		}

		pending, err := engine.Outbox.Enqueue(ctx, ref, body)
		if err != nil {
			return err
		}
		tempID := pending.TempID

		if err := engine.Outbox.Drain(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d message(s) still queued, they will be sent on the next run\n", engine.Outbox.Len())
			return describe(err)
		}

		msg, ok := engine.Timeline.Find(ref, tempID)
		if !ok {
			return fmt.Errorf("message %s vanished from the timeline", tempID)
		}
		switch msg.State {
		case models.StateConfirmed:
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s as message %s\n", tempID, msg.ID)
		case models.StateFailed:
			return fmt.Errorf("message %s was rejected by the backend", tempID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "Message %s is still pending\n", tempID)
		}
		return nil
	},
}
