package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func init() {
	loginCmd.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	loginCmd.Flags().Bool("remember", true, "keep the token in local storage across runs")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		remember, _ := cmd.Flags().GetBool("remember")
		if password == "" {
			p, err := promptPassword()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			password = p
		}

		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tok, err := a.backend.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		if err := a.session.SaveToken(ctx, tok, remember); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		me, err := a.session.Me(ctx)
		if err != nil {
			me = "?"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (user %s)\n", args[0], me)
		if !remember {
			fmt.Fprintln(cmd.OutOrStdout(), "Token kept for this process only.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
