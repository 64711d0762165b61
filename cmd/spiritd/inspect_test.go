package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/pkg/models"
)

func TestRunInspectScoresPrintsPerMessageScores(t *testing.T) {
	const dsn = "file::memory:?cache=shared"

	seed, err := store.Open(store.DialectSQLitePure, dsn, store.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	t.Cleanup(func() { _ = seed.Close() })

	messages := store.NewMessageStore(seed)
	ctx := context.Background()
	const conversationID = "conv-1"
	for _, msg := range []models.ConversationMessage{
		{ConversationID: conversationID, Role: models.ConversationRoleUser, Content: "hello"},
		{ConversationID: conversationID, Role: models.ConversationRoleAssistant, Content: "hi there"},
	} {
		if _, err := messages.Insert(ctx, msg); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	configPath := writeInspectTestConfig(t, dsn)

	cmd := newInspectScoresCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", configPath, conversationID})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute inspect scores: %v", err)
	}
	if !strings.Contains(out.String(), "user") || !strings.Contains(out.String(), "assistant") {
		t.Fatalf("expected output to include both roles, got %q", out.String())
	}
}

func writeInspectTestConfig(t *testing.T, dsn string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spiritd.yaml")
	contents := `
model:
  provider: anthropic
  api_key: key
embedding:
  provider: openai
memory:
  dialect: sqlite
  dsn: "` + dsn + `"
`
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
