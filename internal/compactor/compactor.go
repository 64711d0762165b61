// Package compactor reduces an over-budget conversation history into a
// single bounded "clip-archive" system message plus the most recent
// messages, archiving each summarization batch for later recall. It folds
// chunks through the model sequentially and recursively re-summarizes
// older batches once too many have accumulated.
package compactor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/spiritd/internal/memory"
	"github.com/haasonsaas/spiritd/internal/modelport"
	"github.com/haasonsaas/spiritd/internal/store"
	"github.com/haasonsaas/spiritd/pkg/models"
)

// contextSummaryPrefix marks a clip-archive message so the next compaction
// pass recognizes and folds it in as prior_summary rather than compressing
// it away.
const contextSummaryPrefix = "[Context Summary —"

// Config tunes one compaction pass.
type Config struct {
	ChunkSize        int    // messages per fold-summarization chunk
	KeepRecent       int    // most recent messages left uncompressed
	MaxSummaryTokens int    // model max_tokens per summarization call
	ClipFirst        int    // earliest batches kept verbatim in the rebuild
	ClipLast         int    // most recent batches kept verbatim in the rebuild
	Prompt           string // optional persona/system prompt for summarization calls
}

// DefaultConfig returns reasonable tuning for a single-daemon deployment.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        20,
		KeepRecent:       5,
		MaxSummaryTokens: 1024,
		ClipFirst:        2,
		ClipLast:         2,
	}
}

// Compactor folds, archives, and recursively re-summarizes conversation
// history via a model, a memory manager (for archival batch storage), and
// the message store (for deleting compressed messages and persisting the
// clip-archive).
type Compactor struct {
	model    modelport.Model
	mem      *memory.Manager
	messages *store.MessageStore
	logger   *slog.Logger
}

// New constructs a Compactor.
func New(model modelport.Model, mem *memory.Manager, messages *store.MessageStore, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{model: model, mem: mem, messages: messages, logger: logger}
}

// Compact runs one compaction pass over history for owner/conversationID.
// On any internal failure it returns the original history unchanged with
// zero stats — compaction failures never propagate as errors to the
// caller, matching the no-op failure semantics the agent loop depends on.
func (c *Compactor) Compact(ctx context.Context, owner, conversationID string, history []models.ConversationMessage, cfg Config) *models.CompactionResult {
	result, err := c.compact(ctx, owner, conversationID, history, cfg)
	if err != nil {
		c.logger.Warn("compaction failed, returning history unchanged", "conversation_id", conversationID, "error", err)
		tokens := estimateTokens(history)
		return &models.CompactionResult{History: history, TokensEstimateBefore: tokens, TokensEstimateAfter: tokens}
	}
	return result
}

func (c *Compactor) compact(ctx context.Context, owner, conversationID string, history []models.ConversationMessage, cfg Config) (*models.CompactionResult, error) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.KeepRecent < 0 {
		cfg.KeepRecent = DefaultConfig().KeepRecent
	}
	if cfg.MaxSummaryTokens <= 0 {
		cfg.MaxSummaryTokens = DefaultConfig().MaxSummaryTokens
	}

	// Step 1: split off any prior clip-archive summary, and the most
	// recent keep_recent messages.
	rest := history
	priorSummary := ""
	if len(rest) > 0 && rest[0].Role == models.ConversationRoleSystem && strings.HasPrefix(rest[0].Content, contextSummaryPrefix) {
		priorSummary = rest[0].Content
		rest = rest[1:]
	}

	keepN := cfg.KeepRecent
	if keepN > len(rest) {
		keepN = len(rest)
	}
	splitIdx := len(rest) - keepN
	toCompress := rest[:splitIdx]
	toKeep := rest[splitIdx:]

	if len(toCompress) == 0 {
		tokens := estimateTokens(history)
		return &models.CompactionResult{History: history, TokensEstimateBefore: tokens, TokensEstimateAfter: tokens}, nil
	}

	tokensBefore := estimateTokens(toCompress)

	// Step 2-3: chunk and fold-summarize.
	chunks := chunkMessages(toCompress, cfg.ChunkSize)
	accumulated := priorSummaryContent(priorSummary)
	var newBatches []models.SummaryBatch

	for _, chunk := range chunks {
		text, err := c.summarize(ctx, cfg, accumulated, chunk)
		if err != nil {
			return nil, fmt.Errorf("fold-summarize chunk: %w", err)
		}
		accumulated = text
		batch := models.SummaryBatch{
			Content:      accumulated,
			Depth:        0,
			StartTime:    chunk[0].CreatedAt,
			EndTime:      chunk[len(chunk)-1].CreatedAt,
			MessageCount: len(chunk),
		}
		newBatches = append(newBatches, batch)

		// Step 4: archive.
		label := BatchLabel(conversationID, batch.EndTime)
		content := FormatBatchHeader(batch.Depth, batch.StartTime, batch.EndTime, batch.MessageCount) + batch.Content
		if _, err := c.mem.Write(ctx, owner, "", models.TierArchival, label, content, models.PermissionReadwrite, false, "compaction batch"); err != nil {
			return nil, fmt.Errorf("archive batch: %w", err)
		}
	}

	// Step 5: recurse check over all archived batches for this conversation.
	if err := c.maybeRecurse(ctx, owner, conversationID, cfg); err != nil {
		return nil, fmt.Errorf("recursive re-summarization: %w", err)
	}

	// Step 6: delete compressed messages.
	ids := make([]string, len(toCompress))
	for i, m := range toCompress {
		ids[i] = m.ID
	}
	if err := c.messages.DeleteByIDs(ctx, ids); err != nil {
		return nil, fmt.Errorf("delete compressed messages: %w", err)
	}

	// Step 7-8: rebuild and persist the clip-archive.
	batches, err := c.listBatches(ctx, owner, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	clipContent := buildClipArchive(batches, cfg)
	clipMsg := models.ConversationMessage{
		ConversationID: conversationID,
		Role:           models.ConversationRoleSystem,
		Content:        clipContent,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := c.messages.Insert(ctx, clipMsg); err != nil {
		return nil, fmt.Errorf("persist clip-archive: %w", err)
	}

	newHistory := append([]models.ConversationMessage{clipMsg}, toKeep...)
	tokensAfter := estimateTokens([]models.ConversationMessage{clipMsg})

	return &models.CompactionResult{
		History:              newHistory,
		BatchesCreated:       len(newBatches),
		MessagesCompressed:   len(toCompress),
		TokensEstimateBefore: tokensBefore,
		TokensEstimateAfter:  tokensAfter,
	}, nil
}

func priorSummaryContent(clipContent string) string {
	if clipContent == "" {
		return ""
	}
	// The clip-archive's first line is the "[Context Summary — ...]"
	// heading; the fold accumulator only wants prior narrative text, so
	// strip it if present.
	idx := strings.Index(clipContent, "\n")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(clipContent[idx+1:])
}

func (c *Compactor) summarize(ctx context.Context, cfg Config, previousSummary string, chunk []models.ConversationMessage) (string, error) {
	var sb strings.Builder
	if previousSummary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Messages to summarize:\n")
	for _, m := range chunk {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.Content)
	}

	req := modelport.CompletionRequest{
		System:    cfg.Prompt,
		Messages:  []modelport.Message{{Role: "user", Content: sb.String()}},
		MaxTokens: cfg.MaxSummaryTokens,
	}
	resp, err := c.model.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// maybeRecurse re-summarizes older batches into a single deeper one once
// the archived batch count exceeds clip_first + clip_last + 2.
func (c *Compactor) maybeRecurse(ctx context.Context, owner, conversationID string, cfg Config) error {
	batches, err := c.listBatches(ctx, owner, conversationID)
	if err != nil {
		return err
	}
	total := len(batches)
	if total <= cfg.ClipFirst+cfg.ClipLast+2 {
		return nil
	}

	selected := batches[:total-cfg.ClipLast]
	if len(selected) == 0 {
		return nil
	}

	maxDepth := 0
	var sb strings.Builder
	for _, b := range selected {
		if b.parsed.Depth > maxDepth {
			maxDepth = b.parsed.Depth
		}
		sb.WriteString(b.parsed.Content)
		sb.WriteString("\n\n")
	}

	req := modelport.CompletionRequest{
		System:    cfg.Prompt,
		Messages:  []modelport.Message{{Role: "user", Content: "Merge these summaries into a single coherent summary, preserving chronological order:\n\n" + sb.String()}},
		MaxTokens: cfg.MaxSummaryTokens,
	}
	resp, err := c.model.Complete(ctx, req)
	if err != nil {
		return err
	}

	newDepth := maxDepth + 1
	start := selected[0].parsed.Start
	end := selected[len(selected)-1].parsed.End
	count := 0
	for _, b := range selected {
		count += b.parsed.Count
	}

	// Delete source batches first to free the label space before the new
	// batch (whose endTime may collide with one of theirs) is archived.
	for _, b := range selected {
		if err := c.mem.DeleteBlock(ctx, b.block.ID); err != nil {
			return err
		}
	}

	label := BatchLabel(conversationID, end)
	content := FormatBatchHeader(newDepth, start, end, count) + resp.Text
	_, err = c.mem.Write(ctx, owner, "", models.TierArchival, label, content, models.PermissionReadwrite, false, "recursive re-summarization")
	return err
}

type archivedBatch struct {
	block  *models.MemoryBlock
	parsed ParsedBatch
}

func (c *Compactor) listBatches(ctx context.Context, owner, conversationID string) ([]archivedBatch, error) {
	blocks, err := c.mem.List(ctx, owner, models.TierArchival)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("compaction-batch-%s-", conversationID)

	var out []archivedBatch
	for _, b := range blocks {
		if !strings.HasPrefix(b.Label, prefix) {
			continue
		}
		out = append(out, archivedBatch{block: b, parsed: ParseBatchHeader(b.Content)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].parsed.Start.Before(out[j].parsed.Start) })
	return out, nil
}

func buildClipArchive(batches []archivedBatch, cfg Config) string {
	totalCompressed := 0
	maxDepth := 0
	for _, b := range batches {
		totalCompressed += b.parsed.Count
		if b.parsed.Depth > maxDepth {
			maxDepth = b.parsed.Depth
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d messages compressed across %d compaction cycle(s)]\n\n",
		contextSummaryPrefix, totalCompressed, maxDepth+1)

	total := len(batches)
	if total <= cfg.ClipFirst+cfg.ClipLast {
		for i, b := range batches {
			writeBatchSection(&sb, i+1, b)
		}
		return sb.String()
	}

	sb.WriteString("## Earliest context\n\n")
	for i := 0; i < cfg.ClipFirst; i++ {
		writeBatchSection(&sb, i+1, batches[i])
	}

	omitted := total - cfg.ClipFirst - cfg.ClipLast
	fmt.Fprintf(&sb, "[... %d earlier summaries omitted, searchable via memory_read ...]\n\n", omitted)

	sb.WriteString("## Recent context\n\n")
	for i := total - cfg.ClipLast; i < total; i++ {
		writeBatchSection(&sb, i+1, batches[i])
	}
	return sb.String()
}

func writeBatchSection(sb *strings.Builder, num int, b archivedBatch) {
	fmt.Fprintf(sb, "[Batch %d — depth %d, %s to %s]\n%s\n\n",
		num, b.parsed.Depth, b.parsed.Start.UTC().Format(time.RFC3339), b.parsed.End.UTC().Format(time.RFC3339), b.parsed.Content)
}

// chunkMessages partitions messages into fixed-size chunks (the last may
// be smaller), by message count rather than token budget.
func chunkMessages(messages []models.ConversationMessage, size int) [][]models.ConversationMessage {
	if len(messages) == 0 {
		return nil
	}
	var chunks [][]models.ConversationMessage
	for i := 0; i < len(messages); i += size {
		end := i + size
		if end > len(messages) {
			end = len(messages)
		}
		chunks = append(chunks, messages[i:end])
	}
	return chunks
}

// estimateTokens sums a conservative textual-content-only estimate
// (ceil(len(content)/4)) across messages — tool-call JSON payloads are not
// walked, per the resolved token-counting scope.
func estimateTokens(messages []models.ConversationMessage) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
	}
	return total
}
