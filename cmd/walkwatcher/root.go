package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"walkwatcher/internal/config"
	"walkwatcher/internal/daemonrun"
)

func newRootCommand() *cobra.Command {
	var (
		loop      bool
		debug     bool
		newConfig bool
	)

	rootCmd := &cobra.Command{
		Use:   "walkwatcher <config>",
		Short: "Report file counts and oldest-file age for queue directories",
		Long: "walkwatcher walks the configured root directories, tracks when each file was\n" +
			"first seen, and emits one metric line per directory to the enabled sinks.\n" +
			"Without --loop it runs one collect and one emit, then exits.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if newConfig {
				return writeSampleConfig(cmd, path)
			}
			cfg, _, _, err := config.Load(path)
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{Loop: loop, Debug: debug})
		},
	}

	rootCmd.Flags().BoolVar(&loop, "loop", false, "Run collect and emit on their intervals until interrupted")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&newConfig, "new-config", false, "Write a default configuration to <config> and exit")

	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newUnlockCommand())

	return rootCmd
}

func writeSampleConfig(cmd *cobra.Command, path string) error {
	resolved, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	if err := config.CreateSample(resolved); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", resolved)
	return nil
}
