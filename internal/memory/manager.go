package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/spiritd/internal/embedport"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// ErrPermissionDenied is returned by Write when the block's permission
// forbids the requested mutation outright (readonly), or when a non-append
// write is attempted against an append-only block.
var ErrPermissionDenied = fmt.Errorf("memory: permission denied")

// ErrMutationPending is returned by Write when a familiar-permission block
// already has an unresolved mutation queued; a second proposal must wait.
var ErrMutationPending = fmt.Errorf("memory: a mutation is already pending for this block")

// Manager is the policy layer over Store: it enforces the permission matrix
// for writes, assembles the system prompt from core blocks, and
// resolves the familiar-tier approval queue.
type Manager struct {
	store    *Store
	embedder embedport.Embedder
}

// NewManager constructs a Manager. embedder may be nil, in which case
// blocks are created and updated without an embedding and are excluded
// from SearchByEmbedding results.
func NewManager(store *Store, embedder embedport.Embedder) *Manager {
	return &Manager{store: store, embedder: embedder}
}

// GetCoreBlocks returns the owner's core-tier blocks, always included
// verbatim in the system prompt regardless of context budget.
func (m *Manager) GetCoreBlocks(ctx context.Context, owner string) ([]*models.MemoryBlock, error) {
	return m.store.GetBlocksByTier(ctx, owner, models.TierCore)
}

// GetWorkingBlocks returns the owner's working-tier blocks.
func (m *Manager) GetWorkingBlocks(ctx context.Context, owner string) ([]*models.MemoryBlock, error) {
	return m.store.GetBlocksByTier(ctx, owner, models.TierWorking)
}

// BuildSystemPrompt renders the owner's core-tier blocks into the system
// prompt preamble, in creation order. Working-tier blocks are surfaced
// separately as a "[Working Memory Context]" pseudo-message in per-round
// context construction (the agent loop), not folded into the system
// prompt; archival blocks are never included here — they are retrieved on
// demand via Search.
func (m *Manager) BuildSystemPrompt(ctx context.Context, owner string) (string, error) {
	core, err := m.GetCoreBlocks(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("build system prompt: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("## Memory\n\n")
	for _, b := range core {
		fmt.Fprintf(&sb, "### %s (core)\n%s\n\n", b.Label, b.Content)
	}
	return sb.String(), nil
}

// Read fetches a single block by id, with no permission check — reads are
// unconstrained by the permission matrix, which governs writes only.
func (m *Manager) Read(ctx context.Context, id string) (*models.MemoryBlock, error) {
	return m.store.GetBlock(ctx, id)
}

// List returns every block the owner holds in the given tier, ordered by
// creation time.
func (m *Manager) List(ctx context.Context, owner string, tier models.MemoryTier) ([]*models.MemoryBlock, error) {
	return m.store.GetBlocksByTier(ctx, owner, tier)
}

// Search retrieves the owner's blocks in tier (every tier, if tier is nil)
// ranked by embedding similarity to query. If no embedder is configured, it returns
// an empty result rather than an error — archival recall degrades, it does
// not fail the round.
func (m *Manager) Search(ctx context.Context, owner, query string, limit int, tier *models.MemoryTier) ([]ScoredBlock, error) {
	if m.embedder == nil {
		return nil, nil
	}
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	return m.store.SearchByEmbedding(ctx, owner, vector, limit, tier)
}

// WriteResult reports what Write actually did: the mutation applied
// immediately, was queued for approval, or a new block was created.
type WriteResult struct {
	Applied      bool
	BlockID      string
	MutationID   string
	CreatedBlock bool
}

// Write applies a proposed mutation against an existing block (or creates a
// new block, if id is empty) according to the permission matrix:
//
//	readonly  -> always rejected (ErrPermissionDenied)
//	append    -> content is appended, never replaced; a write with
//	             isAppend false is rejected (ErrPermissionDenied)
//	familiar  -> content is never applied directly; a PendingMutation is
//	             queued and must be resolved through ApproveMutation or
//	             RejectMutation
//	readwrite -> applied immediately
//
// A new block (id == "") is always created with whatever permission the
// caller supplies; the matrix only constrains writes against blocks that
// already exist.
func (m *Manager) Write(ctx context.Context, owner, id string, tier models.MemoryTier, label, content string, permission models.BlockPermission, isAppend bool, reason string) (*WriteResult, error) {
	if id == "" {
		block := &models.MemoryBlock{
			Owner:      owner,
			Tier:       tier,
			Label:      label,
			Content:    content,
			Permission: permission,
		}
		if err := m.embed(ctx, block); err != nil {
			return nil, err
		}
		if err := m.store.CreateBlock(ctx, block); err != nil {
			return nil, err
		}
		if err := m.store.LogEvent(ctx, models.MemoryEvent{
			BlockID:   block.ID,
			EventType: models.EventCreate,
			NewContent: &content,
		}); err != nil {
			return nil, err
		}
		return &WriteResult{Applied: true, BlockID: block.ID, CreatedBlock: true}, nil
	}

	block, err := m.store.GetBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("memory: block %s not found", id)
	}

	switch block.Permission {
	case models.PermissionReadonly:
		return nil, ErrPermissionDenied

	case models.PermissionAppend:
		if !isAppend {
			return nil, ErrPermissionDenied
		}
		newContent := block.Content + "\n" + content
		if err := m.applyUpdate(ctx, block, newContent); err != nil {
			return nil, err
		}
		return &WriteResult{Applied: true, BlockID: block.ID}, nil

	case models.PermissionFamiliar:
		pending, err := m.store.GetPendingMutations(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, p := range pending {
			if p.BlockID == block.ID {
				return nil, ErrMutationPending
			}
		}
		mutation := &models.PendingMutation{
			BlockID:         block.ID,
			ProposedContent: content,
			Reason:          reason,
			Status:          models.MutationPending,
		}
		if err := m.store.CreateMutation(ctx, mutation); err != nil {
			return nil, err
		}
		return &WriteResult{Applied: false, BlockID: block.ID, MutationID: mutation.ID}, nil

	case models.PermissionReadwrite:
		if err := m.applyUpdate(ctx, block, content); err != nil {
			return nil, err
		}
		return &WriteResult{Applied: true, BlockID: block.ID}, nil

	default:
		return nil, fmt.Errorf("memory: unknown permission %q on block %s", block.Permission, block.ID)
	}
}

// WriteByLabel is the label-addressed entry point the memory_write tool
// uses: it resolves (owner, label) to an existing block (or creates one,
// tier defaulting to working when absent) and applies Write's permission
// matrix. Unlike Write, callers never need to know a block's id or current
// permission in advance.
func (m *Manager) WriteByLabel(ctx context.Context, owner, label, content string, tier *models.MemoryTier, reason string) (*WriteResult, error) {
	existing, err := m.store.GetBlockByLabel(ctx, owner, label)
	if err != nil {
		return nil, fmt.Errorf("write by label: %w", err)
	}
	if existing == nil {
		t := models.TierWorking
		if tier != nil {
			t = *tier
		}
		return m.Write(ctx, owner, "", t, label, content, models.PermissionReadwrite, false, reason)
	}
	return m.Write(ctx, owner, existing.ID, existing.Tier, label, content, existing.Permission, existing.Permission == models.PermissionAppend, reason)
}

func (m *Manager) applyUpdate(ctx context.Context, block *models.MemoryBlock, newContent string) error {
	old := block.Content
	embedding := block.Embedding
	if m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, newContent)
		if err == nil {
			embedding = vec
		}
	}
	if err := m.store.UpdateBlock(ctx, block.ID, newContent, embedding); err != nil {
		return err
	}
	return m.store.LogEvent(ctx, models.MemoryEvent{
		BlockID:    block.ID,
		EventType:  models.EventUpdate,
		OldContent: &old,
		NewContent: &newContent,
	})
}

func (m *Manager) embed(ctx context.Context, block *models.MemoryBlock) error {
	if m.embedder == nil || block.Content == "" {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, block.Content)
	if err != nil {
		// Embedding is best-effort: the block is still created without a
		// vector, and simply won't surface in similarity search.
		return nil
	}
	block.Embedding = vec
	return nil
}

// DeleteBlock removes a block outright and logs a delete event. Callers
// enforce their own authorization above this layer (e.g. only the agent
// itself may delete its own blocks) — Manager does not second-guess who is
// calling.
func (m *Manager) DeleteBlock(ctx context.Context, id string) error {
	block, err := m.store.GetBlock(ctx, id)
	if err != nil {
		return err
	}
	if block == nil {
		return nil
	}
	if err := m.store.DeleteBlock(ctx, id); err != nil {
		return err
	}
	old := block.Content
	return m.store.LogEvent(ctx, models.MemoryEvent{
		BlockID:    id,
		EventType:  models.EventDelete,
		OldContent: &old,
	})
}

// Archive converts a working-tier block into an archival-tier one in place.
// The compactor does not call it; it creates its summary batches as new
// archival blocks through Write. Archiving logs an EventArchive rather than
// an EventUpdate.
func (m *Manager) Archive(ctx context.Context, block *models.MemoryBlock) error {
	block.Tier = models.TierArchival
	block.UpdatedAt = time.Now().UTC()
	db := m.store.db
	q := fmt.Sprintf(`UPDATE memory_blocks SET tier = %s, updated_at = %s WHERE id = %s`,
		db.Placeholder(1), db.Placeholder(2), db.Placeholder(3))
	if _, err := db.Conn.ExecContext(ctx, q, string(block.Tier), block.UpdatedAt, block.ID); err != nil {
		return fmt.Errorf("archive block: %w", err)
	}
	return m.store.LogEvent(ctx, models.MemoryEvent{
		BlockID:   block.ID,
		EventType: models.EventArchive,
	})
}

// ListPendingMutations returns mutations awaiting approval for an owner
// (empty owner lists across all owners — used by the approval surface).
func (m *Manager) ListPendingMutations(ctx context.Context, owner string) ([]*models.PendingMutation, error) {
	return m.store.GetPendingMutations(ctx, owner)
}

// ApproveMutation applies a pending mutation's proposed content to its
// block and marks it approved. Applying and resolving happen in the same
// call so a crash between them cannot leave the mutation approved but
// unapplied.
func (m *Manager) ApproveMutation(ctx context.Context, mutationID, feedback string) error {
	mutation, err := m.store.GetMutation(ctx, mutationID)
	if err != nil {
		return err
	}
	if mutation == nil {
		return fmt.Errorf("memory: mutation %s not found", mutationID)
	}
	if mutation.Status != models.MutationPending {
		return fmt.Errorf("memory: mutation %s is not pending", mutationID)
	}
	block, err := m.store.GetBlock(ctx, mutation.BlockID)
	if err != nil {
		return err
	}
	if block == nil {
		return fmt.Errorf("memory: block %s not found", mutation.BlockID)
	}
	if err := m.applyUpdate(ctx, block, mutation.ProposedContent); err != nil {
		return err
	}
	return m.store.ResolveMutation(ctx, mutationID, models.MutationApproved, feedback)
}

// RejectMutation marks a pending mutation rejected without touching its
// block.
func (m *Manager) RejectMutation(ctx context.Context, mutationID, feedback string) error {
	return m.store.ResolveMutation(ctx, mutationID, models.MutationRejected, feedback)
}

// GetEvents returns a block's event history in chronological order.
func (m *Manager) GetEvents(ctx context.Context, blockID string) ([]models.MemoryEvent, error) {
	return m.store.GetEvents(ctx, blockID)
}
