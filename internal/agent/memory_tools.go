package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/tools"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// ownerContextKey threads the acting owner from ProcessMessage down to the
// memory_* tool handlers, which the registry invokes with no notion of
// which conversation (and therefore which owner) is calling.
type ownerContextKey struct{}

func contextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}

// RegisterMemoryTools registers memory_read, memory_write, memory_search,
// and memory_list against registry, all backed by mem and scoped to
// whichever owner ProcessMessage bound into the call's context.
func RegisterMemoryTools(registry *tools.Registry, mem *memory.Manager) error {
	if err := registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "memory_read",
			Description: "Read a memory block by id.",
			Parameters: []tools.Parameter{
				{Name: "id", Type: tools.TypeString, Description: "Block id.", Required: true},
			},
		},
		Handler: memoryReadHandler(mem),
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "memory_write",
			Description: "Write content to a memory block addressed by label, creating it (working tier, readwrite) if it does not exist. Writes against familiar-permission blocks are queued for approval rather than applied.",
			Parameters: []tools.Parameter{
				{Name: "label", Type: tools.TypeString, Description: "Block label, unique per owner.", Required: true},
				{Name: "content", Type: tools.TypeString, Description: "New block content.", Required: true},
				{Name: "tier", Type: tools.TypeString, Description: "Tier to create the block in if it does not yet exist.", EnumValues: []string{"core", "working", "archival"}},
				{Name: "reason", Type: tools.TypeString, Description: "Why this write is being made, recorded against a pending mutation."},
			},
		},
		Handler: memoryWriteHandler(mem),
	}); err != nil {
		return err
	}

	if err := registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "memory_search",
			Description: "Semantically search memory blocks by embedding similarity to a query.",
			Parameters: []tools.Parameter{
				{Name: "query", Type: tools.TypeString, Description: "Search text.", Required: true},
				{Name: "limit", Type: tools.TypeNumber, Description: "Maximum results (default 10)."},
				{Name: "tier", Type: tools.TypeString, Description: "Restrict to one tier.", EnumValues: []string{"core", "working", "archival"}},
			},
		},
		Handler: memorySearchHandler(mem),
	}); err != nil {
		return err
	}

	return registry.Register(tools.Tool{
		Definition: tools.Definition{
			Name:        "memory_list",
			Description: "List every memory block the caller owns in a given tier.",
			Parameters: []tools.Parameter{
				{Name: "tier", Type: tools.TypeString, Description: "Tier to list.", Required: true, EnumValues: []string{"core", "working", "archival"}},
			},
		},
		Handler: memoryListHandler(mem),
	})
}

func memoryReadHandler(mem *memory.Manager) tools.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (string, error) {
		id, _ := params["id"].(string)
		block, err := mem.Read(ctx, id)
		if err != nil {
			return "", err
		}
		if block == nil {
			return "", fmt.Errorf("memory block %s not found", id)
		}
		return marshalTool(block)
	}
}

func memoryWriteHandler(mem *memory.Manager) tools.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (string, error) {
		label, _ := params["label"].(string)
		content, _ := params["content"].(string)
		reason, _ := params["reason"].(string)

		var tier *models.MemoryTier
		if raw, ok := params["tier"].(string); ok && raw != "" {
			t := models.MemoryTier(raw)
			tier = &t
		}

		result, err := mem.WriteByLabel(ctx, ownerFromContext(ctx), label, content, tier, reason)
		if err != nil {
			return "", err
		}
		return marshalTool(result)
	}
}

func memorySearchHandler(mem *memory.Manager) tools.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (string, error) {
		query, _ := params["query"].(string)
		limit := 10
		if raw, ok := params["limit"].(float64); ok && raw > 0 {
			limit = int(raw)
		}
		var tier *models.MemoryTier
		if raw, ok := params["tier"].(string); ok && raw != "" {
			t := models.MemoryTier(raw)
			tier = &t
		}

		results, err := mem.Search(ctx, ownerFromContext(ctx), query, limit, tier)
		if err != nil {
			return "", err
		}
		return marshalTool(results)
	}
}

func memoryListHandler(mem *memory.Manager) tools.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (string, error) {
		tier, _ := params["tier"].(string)
		blocks, err := mem.List(ctx, ownerFromContext(ctx), models.MemoryTier(tier))
		if err != nil {
			return "", err
		}
		return marshalTool(blocks)
	}
}

func marshalTool(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
