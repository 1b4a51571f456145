package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(videoTokenCmd)
}

var videoTokenCmd = &cobra.Command{
	Use:   "video-token <meeting-id>",
	Short: "Fetch the video room token for a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.me(ctx); err != nil {
			return err
		}

		tok, err := a.backend.VideoToken(ctx, args[0])
		if err != nil {
			return describe(err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, tok.Token)
		if tok.RoomName != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "room: %s\n", tok.RoomName)
		}
		if !tok.ExpiresAt.IsZero() {
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", humanize.Time(tok.ExpiresAt))
		}
		return nil
	},
}
