package cmd

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"meetsync/internal/models"
	"meetsync/internal/qa"
)

func init() {
	rootCmd.AddCommand(qaCmd)
}

var qaCmd = &cobra.Command{
	Use:   "qa <meeting-id>",
	Short: "Join a meeting's live Q&A",
	Long: `qa streams questions and votes of a meeting. Every line you type is asked as a question.

Commands:
  /upvote <question-id>   vote for a question
  /quit                   leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meetingID := args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		tok, err := a.session.Token(ctx)
		if err != nil {
			return errLoggedOut
		}

		client, err := qa.Dial(ctx, qaURL(meetingID), tok)
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		go func() {
			for ev := range client.Events() {
				printQAEvent(out, ev)
			}
			stop()
		}()

		fmt.Fprintf(cmd.ErrOrStderr(), "Joined Q&A of meeting %s, /quit to leave\n", meetingID)
		return chatLoop(ctx, cmd.InOrStdin(), cmd.ErrOrStderr(), func(line string) error {
			if rest, ok := strings.CutPrefix(line, "/upvote"); ok {
				id, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil {
					return fmt.Errorf("usage: /upvote <question-id>")
				}
				return client.Upvote(id)
			}
			return client.Submit(line)
		})
	},
}

// qaURL uses api.qa_url as a template when set, else derives the socket URL from the API base.
func qaURL(meetingID string) string {
	if cfg.API.QAURL != "" {
		return strings.ReplaceAll(cfg.API.QAURL, "{id}", url.PathEscape(meetingID))
	}
	return strings.TrimRight(cfg.API.BaseURL, "/") + "/ws/meetings/" + url.PathEscape(meetingID) + "/questions"
}

func printQAEvent(out io.Writer, ev models.QAEvent) {
	switch ev.Type {
	case models.QAEventQuestion:
		if ev.Question != nil {
			fmt.Fprintf(out, "#%d [%d] %s\n", ev.Question.ID, ev.Question.Upvotes, ev.Question.Content)
		}
	case models.QAEventUpvote:
		fmt.Fprintf(out, "#%d now has %d vote(s)\n", ev.QuestionID, ev.Upvotes)
	case models.QAEventError:
		fmt.Fprintf(out, "! %s\n", ev.Error)
	}
}
