package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

// stubRetriever returns canned results and records its arguments.
type stubRetriever struct {
	results       []domain.RetrievalResult
	err           error
	maxChunks     int
	minSimilarity float64
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, maxChunks int, minSimilarity float64) ([]domain.RetrievalResult, error) {
	s.maxChunks = maxChunks
	s.minSimilarity = minSimilarity
	return s.results, s.err
}

func TestAnswerService_Ask(t *testing.T) {
	second := result("scarf", "Available in red and blue.", 0.8)
	second.ChunkHash = "h-scarf-2"
	retriever := &stubRetriever{results: []domain.RetrievalResult{
		result("scarf", "Red wool scarf", 0.9),
		second,
		result("hat", "Green cotton hat", 0.5),
	}}
	gen := &fakeGenerator{}
	svc := NewAnswerService(retriever, NewPromptAssembler(fakePrompts{}), gen, 5, 0.3)

	answer, err := svc.Ask(context.Background(), driving.AskRequest{Query: "Do you sell scarves?"})
	require.NoError(t, err)

	assert.Equal(t, "answer", answer.Text)
	assert.False(t, answer.Fallback)
	assert.Equal(t, "fake-gen", answer.Model)
	assert.Equal(t, 15, answer.Usage.TotalTokens)
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "scarf", answer.Citations[0].ContentID)
	assert.Equal(t, "Title scarf", answer.Citations[0].Title)
	assert.InDelta(t, 0.9, answer.Citations[0].Similarity, 1e-9)
	assert.Equal(t, "hat", answer.Citations[1].ContentID)

	assert.Equal(t, 5, retriever.maxChunks)
	assert.InDelta(t, 0.3, retriever.minSimilarity, 1e-9)
	require.NotNil(t, gen.last)
	assert.Len(t, gen.last.Sources, 3)
}

func TestAnswerService_Ask_RequestOverrides(t *testing.T) {
	retriever := &stubRetriever{}
	svc := NewAnswerService(retriever, NewPromptAssembler(fakePrompts{}), &fakeGenerator{}, 5, 0.3)

	minSim := 0.7
	_, err := svc.Ask(context.Background(), driving.AskRequest{Query: "q", MaxChunks: 2, MinSimilarity: &minSim})
	require.NoError(t, err)
	assert.Equal(t, 2, retriever.maxChunks)
	assert.InDelta(t, 0.7, retriever.minSimilarity, 1e-9)
}

func TestAnswerService_Ask_ZeroThresholdOverride(t *testing.T) {
	retriever := &stubRetriever{}
	svc := NewAnswerService(retriever, NewPromptAssembler(fakePrompts{}), &fakeGenerator{}, 5, 0.3)

	zero := 0.0
	_, err := svc.Ask(context.Background(), driving.AskRequest{Query: "q", MinSimilarity: &zero})
	require.NoError(t, err)
	assert.Zero(t, retriever.minSimilarity)

	_, err = svc.Ask(context.Background(), driving.AskRequest{Query: "q"})
	require.NoError(t, err)
	assert.InDelta(t, 0.3, retriever.minSimilarity, 1e-9)
}

func TestAnswerService_Ask_Fallback(t *testing.T) {
	f := retrievalFixture(t)
	gen := &fakeGenerator{}
	svc := NewAnswerService(NewRetrievalEngine(f.embedder, f.index), NewPromptAssembler(fakePrompts{}), gen, 5, 0.1)

	answer, err := svc.Ask(context.Background(), driving.AskRequest{Query: "zzz"})
	require.NoError(t, err)

	assert.True(t, answer.Fallback)
	assert.Empty(t, answer.Citations)
	require.NotNil(t, gen.last)
	assert.True(t, gen.last.Fallback)
}

func TestAnswerService_Ask_GenerationTimeout(t *testing.T) {
	f := retrievalFixture(t)
	gen := &fakeGenerator{err: &domain.TransientProviderError{
		Provider: "fake", Op: "generate", Err: context.DeadlineExceeded,
	}}
	svc := NewAnswerService(NewRetrievalEngine(f.embedder, f.index), NewPromptAssembler(fakePrompts{}), gen, 5, 0)

	_, err := svc.Ask(context.Background(), driving.AskRequest{Query: "wool scarf"})
	require.Error(t, err)

	var te *domain.TransientProviderError
	assert.ErrorAs(t, err, &te)
	assert.True(t, domain.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The query path never writes sync state.
	state, err := f.states.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseIdle, state.Phase)
}

func TestAnswerService_Ask_Errors(t *testing.T) {
	assembler := NewPromptAssembler(fakePrompts{})

	t.Run("empty query", func(t *testing.T) {
		svc := NewAnswerService(&stubRetriever{}, assembler, &fakeGenerator{}, 5, 0)
		_, err := svc.Ask(context.Background(), driving.AskRequest{Query: " "})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("no generator", func(t *testing.T) {
		svc := NewAnswerService(&stubRetriever{}, assembler, nil, 5, 0)
		_, err := svc.Ask(context.Background(), driving.AskRequest{Query: "q"})
		assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	})

	t.Run("retrieval failure", func(t *testing.T) {
		boom := errors.New("index offline")
		svc := NewAnswerService(&stubRetriever{err: boom}, assembler, &fakeGenerator{}, 5, 0)
		_, err := svc.Ask(context.Background(), driving.AskRequest{Query: "q"})
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "retrieve:")
	})
}
