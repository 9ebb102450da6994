package mcp

import (
	"context"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

// mockRetrievalService is a mock implementation of driving.RetrievalService.
type mockRetrievalService struct {
	results       []domain.RetrievalResult
	err           error
	maxChunks     int
	minSimilarity float64
}

func (m *mockRetrievalService) Retrieve(
	_ context.Context,
	_ string,
	maxChunks int,
	minSimilarity float64,
) ([]domain.RetrievalResult, error) {
	m.maxChunks = maxChunks
	m.minSimilarity = minSimilarity
	return m.results, m.err
}

// mockAnswerService is a mock implementation of driving.AnswerService.
type mockAnswerService struct {
	answer *domain.Answer
	err    error
	last   driving.AskRequest
}

func (m *mockAnswerService) Ask(_ context.Context, req driving.AskRequest) (*domain.Answer, error) {
	m.last = req
	return m.answer, m.err
}

// mockSyncOrchestrator is a mock implementation of driving.SyncOrchestrator.
type mockSyncOrchestrator struct {
	state   *domain.SyncState
	history []domain.SyncState
	health  *domain.IndexHealth
	err     error
}

func (m *mockSyncOrchestrator) RunFullSync(_ context.Context) (*domain.SyncReport, error) {
	return nil, m.err
}

func (m *mockSyncOrchestrator) RunIncrementalSync(_ context.Context, _ domain.ContentType) (*domain.SyncReport, error) {
	return nil, m.err
}

func (m *mockSyncOrchestrator) RunReindex(_ context.Context, _ []domain.ContentRef) (*domain.SyncReport, error) {
	return nil, m.err
}

func (m *mockSyncOrchestrator) RunMaintenance(_ context.Context) (*domain.MaintenanceResult, error) {
	return nil, m.err
}

func (m *mockSyncOrchestrator) Cancel(_ context.Context) (bool, error) {
	return false, m.err
}

func (m *mockSyncOrchestrator) Status(_ context.Context) (*domain.SyncState, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.state == nil {
		return domain.IdleSyncState(), nil
	}
	return m.state, nil
}

func (m *mockSyncOrchestrator) History(_ context.Context, limit int) ([]domain.SyncState, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *mockSyncOrchestrator) Health(_ context.Context) (*domain.IndexHealth, error) {
	return m.health, m.err
}
