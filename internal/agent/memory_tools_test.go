package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/spiritd/internal/embedport"
	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/internal/tools"
	"github.com/haasonsaas/spiritd/pkg/models"
)

func newTestMemory(t *testing.T) *memory.Manager {
	t.Helper()
	db, err := store.Open(store.DialectSQLitePure, "file::memory:?cache=shared&_busy_timeout=5000", store.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return memory.NewManager(memory.NewStore(db), embedport.NewFake(8))
}

func TestMemoryTools_WriteThenReadRoundTrips(t *testing.T) {
	mem := newTestMemory(t)
	registry := tools.NewRegistry()
	if err := RegisterMemoryTools(registry, mem); err != nil {
		t.Fatalf("register memory tools: %v", err)
	}

	ctx := contextWithOwner(context.Background(), "alice")

	writeResult := registry.Dispatch(ctx, "memory_write", map[string]any{
		"label":   "scratch-note",
		"content": "remember the deploy window",
	})
	if !writeResult.Success {
		t.Fatalf("memory_write failed: %s", writeResult.Error)
	}

	var written memory.WriteResult
	if err := json.Unmarshal([]byte(writeResult.Output), &written); err != nil {
		t.Fatalf("decode write result: %v", err)
	}
	if !written.Applied || !written.CreatedBlock || written.BlockID == "" {
		t.Fatalf("expected a newly applied block, got %+v", written)
	}

	readResult := registry.Dispatch(ctx, "memory_read", map[string]any{"id": written.BlockID})
	if !readResult.Success {
		t.Fatalf("memory_read failed: %s", readResult.Error)
	}
	var block models.MemoryBlock
	if err := json.Unmarshal([]byte(readResult.Output), &block); err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if block.Content != "remember the deploy window" {
		t.Fatalf("expected written content to round-trip, got %q", block.Content)
	}
	if block.Tier != models.TierWorking {
		t.Fatalf("expected default tier 'working', got %q", block.Tier)
	}
}

func TestMemoryTools_ListReturnsOwnerScopedBlocks(t *testing.T) {
	mem := newTestMemory(t)
	registry := tools.NewRegistry()
	if err := RegisterMemoryTools(registry, mem); err != nil {
		t.Fatalf("register memory tools: %v", err)
	}

	aliceCtx := contextWithOwner(context.Background(), "alice")
	bobCtx := contextWithOwner(context.Background(), "bob")

	if r := registry.Dispatch(aliceCtx, "memory_write", map[string]any{"label": "alice-note", "content": "a"}); !r.Success {
		t.Fatalf("seed alice block: %s", r.Error)
	}
	if r := registry.Dispatch(bobCtx, "memory_write", map[string]any{"label": "bob-note", "content": "b"}); !r.Success {
		t.Fatalf("seed bob block: %s", r.Error)
	}

	listResult := registry.Dispatch(aliceCtx, "memory_list", map[string]any{"tier": "working"})
	if !listResult.Success {
		t.Fatalf("memory_list failed: %s", listResult.Error)
	}
	var blocks []*models.MemoryBlock
	if err := json.Unmarshal([]byte(listResult.Output), &blocks); err != nil {
		t.Fatalf("decode blocks: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Label != "alice-note" {
		t.Fatalf("expected only alice's block listed, got %+v", blocks)
	}
}

func TestMemoryTools_ReadMissingBlockErrors(t *testing.T) {
	mem := newTestMemory(t)
	registry := tools.NewRegistry()
	if err := RegisterMemoryTools(registry, mem); err != nil {
		t.Fatalf("register memory tools: %v", err)
	}

	ctx := contextWithOwner(context.Background(), "alice")
	result := registry.Dispatch(ctx, "memory_read", map[string]any{"id": "does-not-exist"})
	if result.Success {
		t.Fatalf("expected memory_read to fail for a missing block")
	}
}
