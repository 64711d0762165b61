package compactor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/spiritd/internal/embedport"
	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/modelport"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/pkg/models"
)

func newTestCompactor(t *testing.T, responses []*modelport.CompletionResponse) (*Compactor, *store.MessageStore, *memory.Manager) {
	t.Helper()
	db, err := store.Open(store.DialectSQLitePure, "file::memory:?cache=shared", store.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	messages := store.NewMessageStore(db)
	mem := memory.NewManager(memory.NewStore(db), embedport.NewFake(8))
	fake := &modelport.Fake{Responses: responses}
	return New(fake, mem, messages, nil), messages, mem
}

func seedMessages(t *testing.T, messages *store.MessageStore, conversationID string, n int) []models.ConversationMessage {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []models.ConversationMessage
	for i := 0; i < n; i++ {
		msg := models.ConversationMessage{
			ConversationID: conversationID,
			Role:           models.ConversationRoleUser,
			Content:        strings.Repeat("x", 4000),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		id, err := messages.Insert(ctx, msg)
		if err != nil {
			t.Fatalf("insert message %d: %v", i, err)
		}
		msg.ID = id
		out = append(out, msg)
	}
	return out
}

func TestCompactor_EmptyToCompressReturnsUnchanged(t *testing.T) {
	c, messages, _ := newTestCompactor(t, nil)
	history := seedMessages(t, messages, "conv-1", 3)

	result := c.Compact(context.Background(), "owner-1", "conv-1", history, Config{KeepRecent: 10})
	if result.BatchesCreated != 0 || result.MessagesCompressed != 0 {
		t.Fatalf("expected no-op when keep_recent covers all messages, got %+v", result)
	}
	if len(result.History) != len(history) {
		t.Fatalf("expected history unchanged, got %d messages", len(result.History))
	}
}

func TestCompactor_CompressesOldestIntoClipArchive(t *testing.T) {
	c, messages, _ := newTestCompactor(t, []*modelport.CompletionResponse{
		{Text: "summary of early conversation"},
	})
	history := seedMessages(t, messages, "conv-2", 15)

	result := c.Compact(context.Background(), "owner-2", "conv-2", history, Config{ChunkSize: 20, KeepRecent: 5, MaxSummaryTokens: 256, ClipFirst: 3, ClipLast: 3})

	if result.BatchesCreated != 1 {
		t.Fatalf("expected 1 batch created, got %d", result.BatchesCreated)
	}
	if result.MessagesCompressed != 10 {
		t.Fatalf("expected 10 messages compressed, got %d", result.MessagesCompressed)
	}
	if len(result.History) != 1+5 {
		t.Fatalf("expected clip-archive + 5 kept messages, got %d", len(result.History))
	}
	if result.History[0].Role != models.ConversationRoleSystem || !strings.HasPrefix(result.History[0].Content, contextSummaryPrefix) {
		t.Fatalf("expected first history entry to be a clip-archive system message, got %+v", result.History[0])
	}
	if !strings.Contains(result.History[0].Content, "summary of early conversation") {
		t.Fatalf("expected clip-archive to contain the summarized content, got %q", result.History[0].Content)
	}

	remaining, err := messages.ListByConversation(context.Background(), "conv-2")
	if err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	// 5 kept + 1 persisted clip-archive system message.
	if len(remaining) != 6 {
		t.Fatalf("expected 6 persisted messages after compaction, got %d", len(remaining))
	}
}

func TestCompactor_ModelFailureIsNoOp(t *testing.T) {
	c, messages, _ := newTestCompactor(t, nil)
	c.model = &modelport.Fake{Err: errBoom{}}
	history := seedMessages(t, messages, "conv-3", 15)

	result := c.Compact(context.Background(), "owner-3", "conv-3", history, Config{ChunkSize: 5, KeepRecent: 5})
	if result.BatchesCreated != 0 || result.MessagesCompressed != 0 {
		t.Fatalf("expected no-op stats on model failure, got %+v", result)
	}
	if len(result.History) != len(history) {
		t.Fatalf("expected original history preserved on failure, got %d", len(result.History))
	}

	remaining, err := messages.ListByConversation(context.Background(), "conv-3")
	if err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	if len(remaining) != len(history) {
		t.Fatalf("expected no messages deleted on failure, got %d remaining", len(remaining))
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestParseBatchHeader_RoundTrip(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	header := FormatBatchHeader(2, start, end, 7)
	raw := header + "the summary text"

	parsed := ParseBatchHeader(raw)
	if parsed.Depth != 2 || parsed.Count != 7 || parsed.Content != "the summary text" {
		t.Fatalf("unexpected parse: %+v", parsed)
	}
	if !parsed.Start.Equal(start) || !parsed.End.Equal(end) {
		t.Fatalf("expected start/end to round-trip, got %v/%v", parsed.Start, parsed.End)
	}
}

func TestParseBatchHeader_MalformedFallsBack(t *testing.T) {
	parsed := ParseBatchHeader("just plain content, no header")
	if parsed.Depth != 0 || parsed.Count != 0 || parsed.Content != "just plain content, no header" {
		t.Fatalf("expected fallback to depth=0/count=0/content unchanged, got %+v", parsed)
	}
}

func TestScore_RecentMessagesScoreHigherThanOld(t *testing.T) {
	cfg := DefaultScoringConfig()
	old := models.ConversationMessage{Role: models.ConversationRoleUser, Content: "hi"}
	recent := models.ConversationMessage{Role: models.ConversationRoleUser, Content: "hi"}

	oldScore := Score(old, 0, 10, cfg)
	recentScore := Score(recent, 9, 10, cfg)

	if recentScore <= oldScore {
		t.Fatalf("expected recent message to score higher: old=%f recent=%f", oldScore, recentScore)
	}
}

func TestScore_QuestionAndToolCallBonuses(t *testing.T) {
	cfg := DefaultScoringConfig()
	plain := models.ConversationMessage{Role: models.ConversationRoleUser, Content: "a statement"}
	question := models.ConversationMessage{Role: models.ConversationRoleUser, Content: "a question?"}
	withTool := models.ConversationMessage{Role: models.ConversationRoleAssistant, Content: "a statement", ToolCalls: []models.ToolUse{{ID: "1", Name: "x"}}}

	if Score(question, 5, 10, cfg) <= Score(plain, 5, 10, cfg) {
		t.Fatalf("expected question bonus to raise score")
	}
	if Score(withTool, 5, 10, cfg) <= Score(plain, 5, 10, cfg) {
		t.Fatalf("expected tool-call bonus to raise score")
	}
}
