package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/leo-pe2/ai-chat-main/internal/chats"
	"github.com/leo-pe2/ai-chat-main/internal/config"
	"github.com/leo-pe2/ai-chat-main/internal/provider"
	"github.com/leo-pe2/ai-chat-main/internal/store"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatctl",
		Short:        "Maintenance tasks for the chat store",
		SilenceUsage: true,
	}
	cmd.AddCommand(newPurgeCommand(), newModelsCommand())
	return cmd
}

type purgeOptions struct {
	skipAuth bool
	timeout  time.Duration
}

func newPurgeCommand() *cobra.Command {
	opt := &purgeOptions{}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete placeholder chats older than a day and expired auth records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opt.timeout)
			defer cancel()
			return opt.run(ctx, cmd)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opt.skipAuth, "skip-auth", false, "Leave expired sessions and challenges in place")
	flags.DurationVar(&opt.timeout, "timeout", time.Minute, "Give up after this long")
	return cmd
}

func (o *purgeOptions) run(ctx context.Context, cmd *cobra.Command) error {
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	repo, err := store.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	now := time.Now()
	n, err := chats.NewService(repo, nil).PurgeStalePlaceholders(ctx, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d placeholder chats\n", n)

	if o.skipAuth {
		return nil
	}
	n, err = repo.CleanupExpiredAuth(ctx, now)
	if err != nil {
		return fmt.Errorf("clean up auth records: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired auth records\n", n)
	return nil
}

func newModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the gateway can serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tPROVIDER\tUPSTREAM\tHISTORY")
			for _, m := range provider.Catalog() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Provider, m.Upstream, m.Class)
			}
			return w.Flush()
		},
	}
}
