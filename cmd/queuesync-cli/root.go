package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var serverFlag string
	var tokenFlag string

	ctx := newCommandContext(&configFlag, &serverFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "queuesync-cli",
		Short:         "Watch and control jobs on a queuesync server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Directory containing config.yml")
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Server base URL (overrides client.base_url)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Session token (overrides the saved login)")

	rootCmd.AddCommand(newLoginCommand(ctx))
	rootCmd.AddCommand(newLogoutCommand(ctx))
	rootCmd.AddCommand(newUserCommand(ctx))
	rootCmd.AddCommand(newProjectCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	for _, cmd := range newActionCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newWorkCommand(ctx))
	rootCmd.AddCommand(newVersionCommand(ctx))

	return rootCmd
}
