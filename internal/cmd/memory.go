package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"eino_counsel/pkg"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

// MemoryInspector reads a user's memory record and audit trail
type MemoryInspector interface {
	GetUserMemory(ctx context.Context, userID string) (*pkg.UserMemory, error)
	ListAudit(ctx context.Context, userID string, limit int) ([]pkg.AuditEntry, error)
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term user memory",
	}

	var userID string
	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Print a user's memory record and recent audit entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRuntimeConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return showMemory(cmd.Context(), store, userID, limit, cmd.OutOrStdout())
		},
	}
	show.Flags().StringVarP(&userID, "user", "u", "", "User id")
	show.Flags().IntVarP(&limit, "limit", "n", 20, "Audit entries to print")
	_ = show.MarkFlagRequired("user")

	cmd.AddCommand(show)
	return cmd
}

func showMemory(ctx context.Context, store MemoryInspector, userID string, limit int, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	mem, err := store.GetUserMemory(ctx, userID)
	if err != nil {
		return err
	}
	if mem == nil {
		fmt.Fprintf(out, "no memory stored for %s\n", userID)
		return nil
	}

	record, err := sonic.ConfigStd.MarshalIndent(mem, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}
	fmt.Fprintln(out, string(record))

	entries, err := store.ListAudit(ctx, userID, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\naudit log (%d entries, newest first)\n", len(entries))
	for _, e := range entries {
		details, _ := sonic.ConfigStd.MarshalToString(e.Details)
		fmt.Fprintf(out, "%s  %-12s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, details)
	}
	return nil
}
