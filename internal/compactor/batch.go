package compactor

import (
	"fmt"
	"regexp"
	"time"
)

// batchHeaderPattern matches the metadata prefix on an archived summary
// batch's content: "[depth:N|start:ISO|end:ISO|count:M]\n<rest>".
var batchHeaderPattern = regexp.MustCompile(`(?s)^\[depth:(\d+)\|start:([^|]+)\|end:([^|]+)\|count:(\d+)\]\n(.*)$`)

// FormatBatchHeader renders the metadata prefix for an archival summary
// batch's stored content.
func FormatBatchHeader(depth int, start, end time.Time, count int) string {
	return fmt.Sprintf("[depth:%d|start:%s|end:%s|count:%d]\n",
		depth, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), count)
}

// BatchLabel renders the memory-block label a batch is archived under:
// "compaction-batch-<conversation_id>-<endTime-iso>".
func BatchLabel(conversationID string, end time.Time) string {
	return fmt.Sprintf("compaction-batch-%s-%s", conversationID, end.UTC().Format(time.RFC3339))
}

// ParsedBatch is the result of splitting a stored batch's header from its
// summary text.
type ParsedBatch struct {
	Depth   int
	Start   time.Time
	End     time.Time
	Count   int
	Content string
}

// ParseBatchHeader parses the metadata header prefixed to an archived
// batch's content. A missing or malformed header yields depth=0, now/now,
// count=0, and the content returned unchanged — it never errors.
func ParseBatchHeader(raw string) ParsedBatch {
	m := batchHeaderPattern.FindStringSubmatch(raw)
	if m == nil {
		now := time.Now().UTC()
		return ParsedBatch{Start: now, End: now, Content: raw}
	}

	var depth, count int
	_, _ = fmt.Sscanf(m[1], "%d", &depth)
	_, _ = fmt.Sscanf(m[4], "%d", &count)

	start, errStart := time.Parse(time.RFC3339, m[2])
	end, errEnd := time.Parse(time.RFC3339, m[3])
	if errStart != nil || errEnd != nil {
		now := time.Now().UTC()
		return ParsedBatch{Start: now, End: now, Content: raw}
	}

	return ParsedBatch{Depth: depth, Start: start, End: end, Count: count, Content: m[5]}
}
