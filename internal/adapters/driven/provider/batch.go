package provider

import (
	"context"
	"fmt"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// EmbedFunc embeds one batch of texts.
type EmbedFunc func(ctx context.Context, batch []string) ([][]float32, error)

// EmbedInBatches splits texts into batches of at most batchSize and calls fn
// for each. The first failing batch aborts the call with a
// *domain.EmbeddingError listing that batch's input indices. A response with
// the wrong number of vectors, or vectors of the wrong size when dimensions
// is positive, counts as a fatal failure of its batch.
func EmbedInBatches(
	ctx context.Context, name string, texts []string, batchSize, dimensions int, fn EmbedFunc,
) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))

		vectors, err := fn(ctx, texts[start:end])
		if err == nil {
			err = checkVectors(name, vectors, end-start, dimensions)
		}
		if err != nil {
			return nil, &domain.EmbeddingError{BatchIndices: indices(start, end), Err: err}
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func checkVectors(name string, vectors [][]float32, want, dimensions int) error {
	if len(vectors) != want {
		return &domain.FatalProviderError{
			Provider: name, Op: "embed",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(vectors), want),
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return &domain.FatalProviderError{
				Provider: name, Op: "embed",
				Err: fmt.Errorf("empty embedding at batch position %d", i),
			}
		}
		if dimensions > 0 && len(v) != dimensions {
			return &domain.FatalProviderError{
				Provider: name, Op: "embed",
				Err: fmt.Errorf("embedding has %d dimensions, expected %d", len(v), dimensions),
			}
		}
	}
	return nil
}

func indices(start, end int) []int {
	out := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, i)
	}
	return out
}

// ToFloat32 converts a JSON-decoded vector.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
