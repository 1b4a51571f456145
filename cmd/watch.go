package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"meetsync/internal/models"
)

func init() {
	watchCmd.Flags().Bool("visible", false, "treat the first conversation as on screen and mark its messages read")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <kind:id>...",
	Short: "Poll conversations and print new messages and unread counts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs := make([]models.ConversationRef, 0, len(args))
		for _, arg := range args {
			ref, err := models.ParseRef(arg)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}
		visible, _ := cmd.Flags().GetBool("visible")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		me, err := a.me(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		lastUnread := make(map[models.ConversationRef]int)
		engine, err := a.engine(ctx, me, func(ref models.ConversationRef, n int) {
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := lastUnread[ref]; !ok || prev != n {
				fmt.Fprintf(out, "%s: %d unread\n", ref, n)
			}
			lastUnread[ref] = n
		})
		if err != nil {
			return err
		}

		pr := newPrinter(me)
		engine.Timeline.OnChange(func(ref models.ConversationRef, msgs []models.Message) {
			for _, line := range pr.lines(ref, msgs) {
				fmt.Fprintf(out, "%s %s\n", ref, line)
			}
		})

		for i, ref := range refs {
			if i == 0 && visible {
				engine.Open(ctx, ref)
				continue
			}
			engine.Scheduler.Watch(ctx, ref)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d conversation(s), Ctrl-C to stop\n", len(refs))
		engine.Run(ctx)
		return nil
	},
}
