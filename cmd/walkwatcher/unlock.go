package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"walkwatcher/internal/config"
	"walkwatcher/internal/state"
)

func newUnlockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <config>",
		Short: "Remove the run lock regardless of owner",
		Long: "unlock deletes the lock record for the config's name. Use it after a crashed\n" +
			"run when waiting for the lock to expire is not acceptable. A running\n" +
			"watcher that loses its lock this way fails its next commit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := withStore(cmd.Context(), args[0], func(ctx context.Context, cfg *config.Config, store state.Store) (string, error) {
				record, ok, err := store.Lock(ctx, cfg.System.ConfigName)
				if err != nil {
					return "", fmt.Errorf("read lock: %w", err)
				}
				if !ok {
					return "", nil
				}
				if err := store.ReleaseLock(ctx, cfg.System.ConfigName, ""); err != nil {
					return "", fmt.Errorf("release lock: %w", err)
				}
				return record.Owner, nil
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if owner == "" {
				fmt.Fprintln(out, "No lock to remove")
				return nil
			}
			fmt.Fprintf(out, "Removed lock held by %s\n", owner)
			return nil
		},
	}
}
