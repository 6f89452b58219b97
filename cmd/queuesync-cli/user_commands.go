package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/queuesync/queuesync/internal/models"
)

func newUserCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts (admin only)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			users, err := cl.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{
					strconv.FormatInt(u.ID, 10),
					u.Username,
					u.Role,
					u.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Username", "Role", "Created"},
				rows,
				[]columnAlignment{alignRight},
			))
			return nil
		},
	})

	var role, password string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				password = p
			}
			if password == "" {
				return errors.New("a password is required")
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			u, err := cl.CreateUser(cmd.Context(), args[0], password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s, %s)\n", u.ID, u.Username, u.Role)
			return nil
		},
	}
	create.Flags().StringVar(&role, "role", models.RoleUser, "Role: admin or user")
	create.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when empty)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete an account with its projects and jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			if err := cl.DeleteUser(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %d\n", id)
			return nil
		},
	})

	return cmd
}
