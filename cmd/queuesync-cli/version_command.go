package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCommand(ctx *commandContext) *cobra.Command {
	var require string
	var offline bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client %s\n", version)
			if offline {
				return nil
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if require == "" {
				require = cfg.Client.MinServerVersion
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			v, err := cl.CheckVersion(cmd.Context(), require)
			if v != "" {
				fmt.Fprintf(out, "server %s\n", v)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&require, "require", "", "Semver constraint the server must satisfy (defaults to client.min_server_version)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Only print the client version")
	return cmd
}
