package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/spiritd/internal/compactor"
	"github.com/haasonsaas/spiritd/internal/config"
	"github.com/haasonsaas/spiritd/internal/store"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect daemon state for debugging",
	}
	cmd.AddCommand(newInspectScoresCmd())
	return cmd
}

func newInspectScoresCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "scores <conversation_id>",
		Short: "Print each message's importance score for a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectScores(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "spiritd.yaml", "Path to YAML configuration file")
	return cmd
}

func runInspectScores(cmd *cobra.Command, configPath, conversationID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(dialectFromConfig(cfg.Memory.Dialect), cfg.Memory.DSN, store.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer db.Close()

	messages := store.NewMessageStore(db)
	history, err := messages.ListByConversation(cmd.Context(), conversationID)
	if err != nil {
		return fmt.Errorf("list conversation history: %w", err)
	}

	scored := compactor.ScoreHistory(history, compactor.DefaultScoringConfig())
	out := cmd.OutOrStdout()
	for i, s := range scored {
		fmt.Fprintf(out, "%d\t%s\t%.4f\t%s\n", i, s.Message.Role, s.Score, truncate(s.Message.Content, 60))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
