package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	var username string
	var password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			if password == "" {
				password = os.Getenv("QUEUESYNC_PASSWORD")
			}
			if password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}

			cl, err := ctx.clientWithToken("")
			if err != nil {
				return err
			}
			res, err := cl.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := saveToken(res.Token); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			if res.User != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", res.User.Username, res.User.Role)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from QUEUESYNC_PASSWORD or stdin when empty)")
	return cmd
}

// promptPassword reads one line from the command's input. Input is echoed;
// prefer QUEUESYNC_PASSWORD or --password in scripts.
func promptPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			if cl.Resolver().Token() != "" {
				if err := cl.Logout(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: server logout failed: %v\n", err)
				}
			}
			if err := clearToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
