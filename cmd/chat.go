package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"meetsync/internal/models"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [kind:id]",
	Short: "Open a conversation interactively",
	Long: `chat shows a conversation as it syncs and sends every line you type.
Without an argument it reopens the last direct conversation.

Commands inside the chat:
  /retry <temp-id>   re-send a message that failed
  /quit              leave`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		ref, err := chatTarget(ctx, a, args)
		if err != nil {
			return err
		}
		if ref.Kind == models.KindDirect {
			_ = a.session.RememberPeer(ctx, ref.ID)
		}

		engine, err := a.engine(ctx, me, nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		pr := newPrinter(me)
		engine.Timeline.OnChange(func(changed models.ConversationRef, msgs []models.Message) {
			if changed != ref {
				return
			}
			for _, line := range pr.lines(changed, msgs) {
				fmt.Fprintln(out, line)
			}
		})

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			engine.Run(runCtx)
		}()
		engine.Open(runCtx, ref)
		fmt.Fprintf(cmd.ErrOrStderr(), "Chatting in %s, /quit to leave\n", ref)

		err = chatLoop(runCtx, cmd.InOrStdin(), cmd.ErrOrStderr(), func(line string) error {
			if tempID, ok := strings.CutPrefix(line, "/retry "); ok {
				return engine.Outbox.Retry(runCtx, ref, strings.TrimSpace(tempID))
			}
			_, err := engine.Outbox.Enqueue(runCtx, ref, line)
			return err
		})
		cancel()
		<-done
		return err
	},
}

func chatTarget(ctx context.Context, a *app, args []string) (models.ConversationRef, error) {
	if len(args) == 1 {
		return models.ParseRef(args[0])
	}
	peer, err := a.session.LastPeer(ctx)
	if err != nil {
		return models.ConversationRef{}, err
	}
	if peer == "" {
		return models.ConversationRef{}, fmt.Errorf("no previous conversation, pass one as kind:id")
	}
	return models.ConversationRef{Kind: models.KindDirect, ID: peer}, nil
}

// chatLoop feeds non-empty input lines to handle until EOF, /quit or ctx ends.
func chatLoop(ctx context.Context, in io.Reader, errOut io.Writer, handle func(string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit":
				return nil
			}
			if err := handle(line); err != nil {
				fmt.Fprintf(errOut, "! %v\n", describe(err))
			}
		}
	}
}
