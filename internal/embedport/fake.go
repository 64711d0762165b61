package embedport

import (
	"context"
	"hash/fnv"
)

// Fake is a deterministic, dependency-free Embedder for tests: it hashes
// text into a fixed-dimension vector so identical inputs always produce
// identical vectors. Different inputs, however similar, get unrelated
// vectors.
type Fake struct {
	Dim int

	// FailOn, if set, causes Embed/EmbedBatch to return this error for any
	// text equal to it — used to exercise the EmbeddingError swallow path.
	FailOn string
	Err    error
}

var _ Embedder = (*Fake)(nil)

// NewFake constructs a Fake with the given dimensionality (default 8).
func NewFake(dim int) *Fake {
	if dim <= 0 {
		dim = 8
	}
	return &Fake{Dim: dim}
}

func (f *Fake) Dimension() int { return f.Dim }

func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	if f.FailOn != "" && text == f.FailOn {
		if f.Err != nil {
			return nil, f.Err
		}
		return nil, errEmbedFailed
	}
	return hashVector(text, f.Dim), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	out := make([]float32, dim)
	h := fnv.New64a()
	for i := 0; i < dim; i++ {
		h.Reset()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		sum := h.Sum64()
		// Map into [-1, 1] so cosine similarity behaves meaningfully.
		out[i] = float32(sum%2000)/1000 - 1
	}
	return out
}

type embedFailedError struct{}

func (embedFailedError) Error() string { return "fake embedder: simulated failure" }

var errEmbedFailed error = embedFailedError{}
