// Package memory implements the three-tier, permissioned memory store and
// the policy manager layered atop it: CRUD, label lookup, tier listing,
// vector similarity search, event log, and the mutation-approval queue.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// Store is pure data access over memory_blocks, memory_events, and
// pending_mutations. It has no policy opinions — those live in Manager.
type Store struct {
	db *store.DB
}

// NewStore wraps an open DB handle.
func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetBlock(ctx context.Context, id string) (*models.MemoryBlock, error) {
	q := fmt.Sprintf(`SELECT id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at
		FROM memory_blocks WHERE id = %s`, s.db.Placeholder(1))
	row := s.db.Conn.QueryRowContext(ctx, q, id)
	return scanBlock(row)
}

func (s *Store) GetBlockByLabel(ctx context.Context, owner, label string) (*models.MemoryBlock, error) {
	q := fmt.Sprintf(`SELECT id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at
		FROM memory_blocks WHERE owner = %s AND label = %s`, s.db.Placeholder(1), s.db.Placeholder(2))
	row := s.db.Conn.QueryRowContext(ctx, q, owner, label)
	return scanBlock(row)
}

func (s *Store) GetBlocksByTier(ctx context.Context, owner string, tier models.MemoryTier) ([]*models.MemoryBlock, error) {
	q := fmt.Sprintf(`SELECT id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at
		FROM memory_blocks WHERE owner = %s AND tier = %s ORDER BY created_at ASC`,
		s.db.Placeholder(1), s.db.Placeholder(2))
	rows, err := s.db.Conn.QueryContext(ctx, q, owner, string(tier))
	if err != nil {
		return nil, fmt.Errorf("get blocks by tier: %w", err)
	}
	defer rows.Close()
	return scanBlocks(rows)
}

// CreateBlock generates an id if absent and persists the block. It has no
// event side effect — callers that want an event log it themselves.
func (s *Store) CreateBlock(ctx context.Context, b *models.MemoryBlock) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}

	q := fmt.Sprintf(`INSERT INTO memory_blocks
		(id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3), s.db.Placeholder(4),
		s.db.Placeholder(5), s.db.Placeholder(6), s.db.Placeholder(7), s.db.Placeholder(8),
		s.db.Placeholder(9), s.db.Placeholder(10))
	_, err := s.db.Conn.ExecContext(ctx, q,
		b.ID, b.Owner, string(b.Tier), b.Label, b.Content, encodeEmbedding(b.Embedding),
		string(b.Permission), b.Pinned, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// UpdateBlock updates content and embedding, bumping updated_at.
func (s *Store) UpdateBlock(ctx context.Context, id, content string, embedding []float32) error {
	q := fmt.Sprintf(`UPDATE memory_blocks SET content = %s, embedding = %s, updated_at = %s WHERE id = %s`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3), s.db.Placeholder(4))
	_, err := s.db.Conn.ExecContext(ctx, q, content, encodeEmbedding(embedding), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM memory_blocks WHERE id = %s`, s.db.Placeholder(1))
	_, err := s.db.Conn.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// ScoredBlock pairs a block with its cosine similarity to a query vector.
type ScoredBlock struct {
	Block      *models.MemoryBlock
	Similarity float64
}

// SearchByEmbedding returns blocks ranked by descending cosine similarity.
// Blocks without an embedding are excluded. Ties are broken by whatever
// order the store returns them in; callers must not rely on tie order.
func (s *Store) SearchByEmbedding(ctx context.Context, owner string, vector []float32, limit int, tier *models.MemoryTier) ([]ScoredBlock, error) {
	var q string
	var args []any
	if tier != nil {
		q = fmt.Sprintf(`SELECT id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at
			FROM memory_blocks WHERE owner = %s AND tier = %s AND embedding IS NOT NULL`,
			s.db.Placeholder(1), s.db.Placeholder(2))
		args = []any{owner, string(*tier)}
	} else {
		q = fmt.Sprintf(`SELECT id, owner, tier, label, content, embedding, permission, pinned, created_at, updated_at
			FROM memory_blocks WHERE owner = %s AND embedding IS NOT NULL`, s.db.Placeholder(1))
		args = []any{owner}
	}

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search by embedding: %w", err)
	}
	defer rows.Close()
	blocks, err := scanBlocks(rows)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredBlock, 0, len(blocks))
	for _, b := range blocks {
		if len(b.Embedding) == 0 {
			continue
		}
		scored = append(scored, ScoredBlock{Block: b, Similarity: cosineSimilarity(vector, b.Embedding)})
	}
	sortScoredDescending(scored)
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *Store) LogEvent(ctx context.Context, ev models.MemoryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO memory_events (id, block_id, event_type, old_content, new_content, created_at)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3),
		s.db.Placeholder(4), s.db.Placeholder(5), s.db.Placeholder(6))
	_, err := s.db.Conn.ExecContext(ctx, q, ev.ID, ev.BlockID, string(ev.EventType),
		nullableString(ev.OldContent), nullableString(ev.NewContent), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

func (s *Store) GetEvents(ctx context.Context, blockID string) ([]models.MemoryEvent, error) {
	q := fmt.Sprintf(`SELECT id, block_id, event_type, old_content, new_content, created_at
		FROM memory_events WHERE block_id = %s ORDER BY created_at ASC`, s.db.Placeholder(1))
	rows, err := s.db.Conn.QueryContext(ctx, q, blockID)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEvent
	for rows.Next() {
		var ev models.MemoryEvent
		var eventType string
		var oldContent, newContent sql.NullString
		if err := rows.Scan(&ev.ID, &ev.BlockID, &eventType, &oldContent, &newContent, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = models.MemoryEventType(eventType)
		if oldContent.Valid {
			ev.OldContent = &oldContent.String
		}
		if newContent.Valid {
			ev.NewContent = &newContent.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CreateMutation enqueues a proposed write against a familiar-permission
// block. The caller decides status (normally MutationPending).
func (s *Store) CreateMutation(ctx context.Context, m *models.PendingMutation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = models.MutationPending
	}
	q := fmt.Sprintf(`INSERT INTO pending_mutations
		(id, block_id, proposed_content, reason, status, feedback, created_at, resolved_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3), s.db.Placeholder(4),
		s.db.Placeholder(5), s.db.Placeholder(6), s.db.Placeholder(7), s.db.Placeholder(8))
	_, err := s.db.Conn.ExecContext(ctx, q, m.ID, m.BlockID, m.ProposedContent, m.Reason,
		string(m.Status), m.Feedback, m.CreatedAt, nullableTime(m.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create mutation: %w", err)
	}
	return nil
}

// GetPendingMutations lists mutations still awaiting resolution. When owner
// is non-empty it is joined against the block's owner; empty lists across
// all owners.
func (s *Store) GetPendingMutations(ctx context.Context, owner string) ([]*models.PendingMutation, error) {
	var q string
	var args []any
	if owner != "" {
		q = fmt.Sprintf(`SELECT pm.id, pm.block_id, pm.proposed_content, pm.reason, pm.status, pm.feedback, pm.created_at, pm.resolved_at
			FROM pending_mutations pm
			JOIN memory_blocks mb ON mb.id = pm.block_id
			WHERE pm.status = %s AND mb.owner = %s
			ORDER BY pm.created_at ASC`, s.db.Placeholder(1), s.db.Placeholder(2))
		args = []any{string(models.MutationPending), owner}
	} else {
		q = fmt.Sprintf(`SELECT id, block_id, proposed_content, reason, status, feedback, created_at, resolved_at
			FROM pending_mutations WHERE status = %s ORDER BY created_at ASC`, s.db.Placeholder(1))
		args = []any{string(models.MutationPending)}
	}

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get pending mutations: %w", err)
	}
	defer rows.Close()

	var out []*models.PendingMutation
	for rows.Next() {
		m, err := scanMutationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMutation fetches a single mutation by id.
func (s *Store) GetMutation(ctx context.Context, id string) (*models.PendingMutation, error) {
	q := fmt.Sprintf(`SELECT id, block_id, proposed_content, reason, status, feedback, created_at, resolved_at
		FROM pending_mutations WHERE id = %s`, s.db.Placeholder(1))
	row := s.db.Conn.QueryRowContext(ctx, q, id)
	var m models.PendingMutation
	var status string
	var feedback sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.BlockID, &m.ProposedContent, &m.Reason, &status, &feedback, &m.CreatedAt, &resolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	m.Status = models.MutationStatus(status)
	if feedback.Valid {
		m.Feedback = feedback.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

// ResolveMutation transitions a mutation to approved or rejected exactly
// once, stamping resolved_at and recording any feedback.
func (s *Store) ResolveMutation(ctx context.Context, id string, status models.MutationStatus, feedback string) error {
	q := fmt.Sprintf(`UPDATE pending_mutations SET status = %s, feedback = %s, resolved_at = %s
		WHERE id = %s AND status = %s`,
		s.db.Placeholder(1), s.db.Placeholder(2), s.db.Placeholder(3), s.db.Placeholder(4), s.db.Placeholder(5))
	res, err := s.db.Conn.ExecContext(ctx, q, string(status), feedback, time.Now().UTC(), id, string(models.MutationPending))
	if err != nil {
		return fmt.Errorf("resolve mutation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve mutation: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resolve mutation: %s is not pending", id)
	}
	return nil
}

func scanMutationRow(rows *sql.Rows) (*models.PendingMutation, error) {
	var m models.PendingMutation
	var status string
	var feedback sql.NullString
	var resolvedAt sql.NullTime
	if err := rows.Scan(&m.ID, &m.BlockID, &m.ProposedContent, &m.Reason, &status, &feedback, &m.CreatedAt, &resolvedAt); err != nil {
		return nil, fmt.Errorf("scan mutation: %w", err)
	}
	m.Status = models.MutationStatus(status)
	if feedback.Valid {
		m.Feedback = feedback.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return &m, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func scanBlock(row *sql.Row) (*models.MemoryBlock, error) {
	var b models.MemoryBlock
	var tier, permission string
	var embedding []byte
	if err := row.Scan(&b.ID, &b.Owner, &tier, &b.Label, &b.Content, &embedding, &permission, &b.Pinned, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan block: %w", err)
	}
	b.Tier = models.MemoryTier(tier)
	b.Permission = models.BlockPermission(permission)
	b.Embedding = decodeEmbedding(embedding)
	return &b, nil
}

func scanBlocks(rows *sql.Rows) ([]*models.MemoryBlock, error) {
	var out []*models.MemoryBlock
	for rows.Next() {
		var b models.MemoryBlock
		var tier, permission string
		var embedding []byte
		if err := rows.Scan(&b.ID, &b.Owner, &tier, &b.Label, &b.Content, &embedding, &permission, &b.Pinned, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Tier = models.MemoryTier(tier)
		b.Permission = models.BlockPermission(permission)
		b.Embedding = decodeEmbedding(embedding)
		out = append(out, &b)
	}
	return out, rows.Err()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortScoredDescending(scored []ScoredBlock) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Similarity > scored[j-1].Similarity; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}
