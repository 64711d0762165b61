package memory

import (
	"context"
	"testing"

	"github.com/haasonsaas/spiritd/internal/embedport"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *Store) {
	t.Helper()
	db, err := store.Open(store.DialectSQLitePure, "file::memory:?cache=shared", store.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewStore(db)
	return NewManager(s, embedport.NewFake(8)), s
}

func TestManager_ReadonlyWriteDenied(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	block := &models.MemoryBlock{Owner: "alice", Tier: models.TierCore, Label: "persona", Content: "v1", Permission: models.PermissionReadonly}
	if err := s.CreateBlock(ctx, block); err != nil {
		t.Fatalf("create block: %v", err)
	}

	_, err := mgr.Write(ctx, "alice", block.ID, models.TierCore, "persona", "v2", models.PermissionReadonly, false, "")
	if err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestManager_AppendRejectsNonAppendWrite(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	block := &models.MemoryBlock{Owner: "alice", Tier: models.TierWorking, Label: "log", Content: "a", Permission: models.PermissionAppend}
	if err := s.CreateBlock(ctx, block); err != nil {
		t.Fatalf("create block: %v", err)
	}

	if _, err := mgr.Write(ctx, "alice", block.ID, models.TierWorking, "log", "b", models.PermissionAppend, false, ""); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied for non-append write, got %v", err)
	}

	result, err := mgr.Write(ctx, "alice", block.ID, models.TierWorking, "log", "b", models.PermissionAppend, true, "")
	if err != nil {
		t.Fatalf("append write: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected append write to be applied immediately")
	}

	got, err := mgr.Read(ctx, block.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Content != "a\nb" {
		t.Fatalf("expected appended content 'a\\nb', got %q", got.Content)
	}
}

func TestManager_ReadwriteAppliesImmediately(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	block := &models.MemoryBlock{Owner: "alice", Tier: models.TierWorking, Label: "scratch", Content: "old", Permission: models.PermissionReadwrite}
	if err := s.CreateBlock(ctx, block); err != nil {
		t.Fatalf("create block: %v", err)
	}

	result, err := mgr.Write(ctx, "alice", block.ID, models.TierWorking, "scratch", "new", models.PermissionReadwrite, false, "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected readwrite write to apply immediately")
	}

	got, err := mgr.Read(ctx, block.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Content != "new" {
		t.Fatalf("expected content 'new', got %q", got.Content)
	}

	events, err := mgr.GetEvents(ctx, block.ID)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	if len(events) != 2 || events[0].EventType != models.EventCreate || events[1].EventType != models.EventUpdate {
		t.Fatalf("unexpected event history: %+v", events)
	}
}

// TestManager_FamiliarMutationCycle exercises the full familiar-permission
// life cycle: a write is queued rather than applied, a second proposal
// against the same block is rejected while one is outstanding, and approval
// applies the queued content exactly once.
func TestManager_FamiliarMutationCycle(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	block := &models.MemoryBlock{Owner: "alice", Tier: models.TierWorking, Label: "preferences", Content: "likes tea", Permission: models.PermissionFamiliar}
	if err := s.CreateBlock(ctx, block); err != nil {
		t.Fatalf("create block: %v", err)
	}

	result, err := mgr.Write(ctx, "alice", block.ID, models.TierWorking, "preferences", "likes coffee", models.PermissionFamiliar, false, "learned over conversation")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if result.Applied {
		t.Fatalf("expected familiar write to be queued, not applied")
	}
	if result.MutationID == "" {
		t.Fatalf("expected a mutation id")
	}

	got, err := mgr.Read(ctx, block.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Content != "likes tea" {
		t.Fatalf("expected content unchanged while mutation is pending, got %q", got.Content)
	}

	if _, err := mgr.Write(ctx, "alice", block.ID, models.TierWorking, "preferences", "likes juice", models.PermissionFamiliar, false, ""); err != ErrMutationPending {
		t.Fatalf("expected ErrMutationPending for second proposal, got %v", err)
	}

	pending, err := mgr.ListPendingMutations(ctx, "alice")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending mutation, got %d", len(pending))
	}

	if err := mgr.ApproveMutation(ctx, result.MutationID, "confirmed with user"); err != nil {
		t.Fatalf("approve mutation: %v", err)
	}

	got, err = mgr.Read(ctx, block.ID)
	if err != nil {
		t.Fatalf("read after approval: %v", err)
	}
	if got.Content != "likes coffee" {
		t.Fatalf("expected approved content applied, got %q", got.Content)
	}

	if err := mgr.ApproveMutation(ctx, result.MutationID, ""); err == nil {
		t.Fatalf("expected re-approving a resolved mutation to fail")
	}
}

func TestManager_RejectMutationLeavesBlockUnchanged(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	block := &models.MemoryBlock{Owner: "bob", Tier: models.TierWorking, Label: "mood", Content: "neutral", Permission: models.PermissionFamiliar}
	if err := s.CreateBlock(ctx, block); err != nil {
		t.Fatalf("create block: %v", err)
	}

	result, err := mgr.Write(ctx, "bob", block.ID, models.TierWorking, "mood", "upset", models.PermissionFamiliar, false, "")
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := mgr.RejectMutation(ctx, result.MutationID, "not confirmed"); err != nil {
		t.Fatalf("reject mutation: %v", err)
	}

	got, err := mgr.Read(ctx, block.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Content != "neutral" {
		t.Fatalf("expected content unchanged after rejection, got %q", got.Content)
	}

	// Rejected mutations free the block for a new proposal.
	if _, err := mgr.Write(ctx, "bob", block.ID, models.TierWorking, "mood", "calm", models.PermissionFamiliar, false, ""); err != nil {
		t.Fatalf("expected new proposal to succeed after rejection, got %v", err)
	}
}

func TestManager_BuildSystemPromptIncludesOnlyCoreTier(t *testing.T) {
	ctx := context.Background()
	mgr, s := newTestManager(t)

	core := &models.MemoryBlock{Owner: "alice", Tier: models.TierCore, Label: "persona", Content: "I am helpful.", Permission: models.PermissionReadonly}
	working := &models.MemoryBlock{Owner: "alice", Tier: models.TierWorking, Label: "context", Content: "Discussing Go.", Permission: models.PermissionReadwrite}
	if err := s.CreateBlock(ctx, core); err != nil {
		t.Fatalf("create core block: %v", err)
	}
	if err := s.CreateBlock(ctx, working); err != nil {
		t.Fatalf("create working block: %v", err)
	}

	prompt, err := mgr.BuildSystemPrompt(ctx, "alice")
	if err != nil {
		t.Fatalf("build system prompt: %v", err)
	}

	if indexOf(prompt, "persona") < 0 {
		t.Fatalf("expected core block in system prompt:\n%s", prompt)
	}
	if indexOf(prompt, "Discussing Go.") >= 0 {
		t.Fatalf("working-tier block must not appear in system prompt (it's surfaced via the per-round pseudo-message instead):\n%s", prompt)
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
