package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
	"github.com/custodia-labs/storekb/internal/logger"
)

// Ensure AnswerService implements the interface.
var _ driving.AnswerService = (*AnswerService)(nil)

// AnswerService answers questions by retrieving context, assembling a
// prompt and calling the generation provider. It never touches sync state.
type AnswerService struct {
	retriever     driving.RetrievalService
	assembler     *PromptAssembler
	generator     driven.GenerationProvider
	maxChunks     int
	minSimilarity float64
}

// NewAnswerService creates an answer service. generator may be nil, in
// which case Ask returns domain.ErrGenerationUnavailable.
func NewAnswerService(
	retriever driving.RetrievalService,
	assembler *PromptAssembler,
	generator driven.GenerationProvider,
	maxChunks int,
	minSimilarity float64,
) *AnswerService {
	return &AnswerService{
		retriever:     retriever,
		assembler:     assembler,
		generator:     generator,
		maxChunks:     maxChunks,
		minSimilarity: minSimilarity,
	}
}

// Ask runs the query flow. Finding nothing relevant is not an error: the
// answer is generated from the fallback prompt and marked Fallback.
// Provider timeouts surface as *domain.TransientProviderError.
func (s *AnswerService) Ask(ctx context.Context, req driving.AskRequest) (*domain.Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, domain.NewValidationError(domain.ContentRef{}, "empty query")
	}
	if s.generator == nil {
		return nil, domain.ErrGenerationUnavailable
	}

	maxChunks := s.maxChunks
	if req.MaxChunks > 0 {
		maxChunks = req.MaxChunks
	}
	minSimilarity := s.minSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	// 1. RETRIEVE
	retrieved, err := s.retriever.Retrieve(ctx, req.Query, maxChunks, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	// 2. ASSEMBLE
	genReq, err := s.assembler.Build(req.Query, retrieved, req.History, req.Context)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}
	logger.Debug("Ask: %d sources, fallback=%t", len(genReq.Sources), genReq.Fallback)

	// 3. GENERATE
	resp, err := s.generator.Generate(ctx, genReq)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	model := resp.Model
	if model == "" {
		model = s.generator.ModelName()
	}
	return &domain.Answer{
		Text:      resp.Text,
		Citations: citations(genReq.Sources),
		Fallback:  genReq.Fallback,
		Model:     model,
		Usage:     resp.Usage,
	}, nil
}

// citations lists each content item once, in source order.
func citations(sources []domain.RetrievalResult) []domain.Citation {
	seen := make(map[domain.ContentRef]struct{}, len(sources))
	out := make([]domain.Citation, 0, len(sources))
	for i := range sources {
		r := &sources[i]
		ref := domain.ContentRef{ContentType: r.ContentType, ContentID: r.ContentID}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, domain.Citation{
			ContentType: r.ContentType,
			ContentID:   r.ContentID,
			Title:       r.Title(),
			URL:         r.URL(),
			Similarity:  r.Similarity,
		})
	}
	return out
}
