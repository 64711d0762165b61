// Package embedport defines the embedding port: a single- and batch-text
// to fixed-dimension vector contract, plus an OpenAI-backed adapter and a
// deterministic fake for tests.
package embedport

import "context"

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	// Embed returns the embedding for a single piece of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in the same order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the fixed vector length this embedder produces.
	Dimension() int
}
