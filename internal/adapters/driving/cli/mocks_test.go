package cli

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/storekb/internal/config"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driving"
)

var testStarted = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// mockSyncOrchestrator implements driving.SyncOrchestrator for testing.
type mockSyncOrchestrator struct {
	mu          sync.Mutex
	full        int
	incremental []domain.ContentType
	reindexed   []domain.ContentRef
	maintenance int
	cancelled   bool

	state     *domain.SyncState
	history   []domain.SyncState
	health    *domain.IndexHealth
	syncErr   map[domain.ContentType]error
	fullErr   error
	running   bool
	reportErr []domain.ItemError
}

var _ driving.SyncOrchestrator = (*mockSyncOrchestrator)(nil)

func newMockSyncOrchestrator() *mockSyncOrchestrator {
	return &mockSyncOrchestrator{syncErr: make(map[domain.ContentType]error)}
}

func (m *mockSyncOrchestrator) report(op domain.SyncOperation, types ...domain.TypeReport) *domain.SyncReport {
	return &domain.SyncReport{
		RunID:       "run-1",
		Operation:   op,
		Phase:       domain.SyncPhaseCompleted,
		StartedAt:   testStarted,
		CompletedAt: testStarted.Add(time.Minute),
		Types:       types,
		Errors:      m.reportErr,
	}
}

func (m *mockSyncOrchestrator) RunFullSync(_ context.Context) (*domain.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.full++
	if m.fullErr != nil {
		r := m.report(domain.OperationFullSync)
		r.Phase = domain.SyncPhaseFailed
		r.Failure = m.fullErr.Error()
		return r, m.fullErr
	}
	return m.report(domain.OperationFullSync,
		domain.TypeReport{ContentType: domain.ContentTypeProduct, Indexed: 3, Removed: 1, ChunksCreated: 6, EmbeddingsGenerated: 6},
		domain.TypeReport{ContentType: domain.ContentTypePage, Indexed: 2, ChunksCreated: 2, EmbeddingsGenerated: 2},
	), nil
}

func (m *mockSyncOrchestrator) RunIncrementalSync(_ context.Context, t domain.ContentType) (*domain.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incremental = append(m.incremental, t)
	if err := m.syncErr[t]; err != nil {
		return nil, err
	}
	return m.report(domain.OperationIncrementalSync, domain.TypeReport{ContentType: t, Indexed: 1}), nil
}

func (m *mockSyncOrchestrator) RunReindex(_ context.Context, refs []domain.ContentRef) (*domain.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reindexed = append(m.reindexed, refs...)
	return m.report(domain.OperationReindex, domain.TypeReport{ContentType: refs[0].ContentType, Indexed: len(refs)}), nil
}

func (m *mockSyncOrchestrator) RunMaintenance(_ context.Context) (*domain.MaintenanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance++
	return &domain.MaintenanceResult{PurgedEntries: 4, PrunedRuns: 2, ReclaimedLocks: 1}, nil
}

func (m *mockSyncOrchestrator) Cancel(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false, nil
	}
	m.cancelled = true
	return true, nil
}

func (m *mockSyncOrchestrator) Status(_ context.Context) (*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.IdleSyncState(), nil
	}
	return m.state.Clone(), nil
}

func (m *mockSyncOrchestrator) History(_ context.Context, limit int) ([]domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit < len(m.history) {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *mockSyncOrchestrator) Health(_ context.Context) (*domain.IndexHealth, error) {
	if m.health == nil {
		return &domain.IndexHealth{}, nil
	}
	return m.health, nil
}

// mockRetrievalService implements driving.RetrievalService for testing.
type mockRetrievalService struct {
	results       []domain.RetrievalResult
	err           error
	query         string
	maxChunks     int
	minSimilarity float64
}

func (m *mockRetrievalService) Retrieve(
	_ context.Context, query string, maxChunks int, minSimilarity float64,
) ([]domain.RetrievalResult, error) {
	m.query = query
	m.maxChunks = maxChunks
	m.minSimilarity = minSimilarity
	return m.results, m.err
}

// mockAnswerService implements driving.AnswerService for testing.
type mockAnswerService struct {
	answer *domain.Answer
	err    error
	last   driving.AskRequest
}

func (m *mockAnswerService) Ask(_ context.Context, req driving.AskRequest) (*domain.Answer, error) {
	m.last = req
	return m.answer, m.err
}

type testServices struct {
	sync      *mockSyncOrchestrator
	retrieval *mockRetrievalService
	answer    *mockAnswerService
}

// setupTestServices installs mocks and resets command flags. The returned
// func restores the previous services.
func setupTestServices() (*testServices, func()) {
	old := Services{
		Config:    appConfig,
		Sync:      syncOrchestrator,
		Retrieval: retrievalService,
		Answer:    answerService,
		Scheduler: scheduler,
		Follower:  follower,
		Watcher:   contentWatcher,
	}
	oldBootstrap := bootstrap

	ts := &testServices{
		sync:      newMockSyncOrchestrator(),
		retrieval: &mockRetrievalService{},
		answer:    &mockAnswerService{answer: &domain.Answer{Text: "ok"}},
	}
	cfg := config.Default()
	cfg.Content.Types = []string{"product", "page"}
	SetServices(&Services{
		Config:    cfg,
		Sync:      ts.sync,
		Retrieval: ts.retrieval,
		Answer:    ts.answer,
	})
	bootstrap = nil
	resetFlags()

	return ts, func() {
		appConfig = old.Config
		syncOrchestrator = old.Sync
		retrievalService = old.Retrieval
		answerService = old.Answer
		scheduler = old.Scheduler
		follower = old.Follower
		contentWatcher = old.Watcher
		bootstrap = oldBootstrap
		resetFlags()
	}
}

func resetFlags() {
	configPath = ""
	syncJSON = false
	statusHistory = 0
	reindexFromRun = ""
	searchLimit = 0
	searchMinSimilarity = -1
	searchJSON = false
	askStore, askPage, askLocale = "", "", ""
	askJSON = false
	configForce = false
	configJSON = false
	serveAddr = ""
	serveWatch = false
	serveNoScheduler = false
	serveMCP = false
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}
