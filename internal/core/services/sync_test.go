package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	openaiembed "github.com/custodia-labs/storekb/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/storekb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/postprocessors/chunker"
)

func seedCatalog(f *fixture) {
	f.source.put(tProduct, "scarf", "Red wool scarf", t0)
	f.source.put(tProduct, "hat", "Green cotton hat", t0)
	f.source.put(tProduct, "towel", "Linen tea towel", t0)
	f.source.put(tPage, "shipping", "Shipping takes three days", t0)
}

func lockFree(t *testing.T, f *fixture) {
	t.Helper()
	holder, err := f.locks.Holder(context.Background(), domain.SyncLockName)
	require.NoError(t, err)
	assert.Nil(t, holder, "sync lock must be released")
}

func TestSyncOrchestrator_RunFullSync(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)

	report, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncPhaseCompleted, report.Phase)
	assert.Equal(t, domain.OperationFullSync, report.Operation)
	require.Len(t, report.Types, 2)
	assert.Equal(t, tProduct, report.Types[0].ContentType)
	assert.Equal(t, 3, report.Types[0].Indexed)
	assert.Equal(t, 1, report.Types[1].Indexed)
	assert.Equal(t, 4, report.Totals().EmbeddingsGenerated)
	assert.Empty(t, report.Errors)

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseCompleted, state.Phase)
	assert.Equal(t, report.RunID, state.RunID)
	assert.Equal(t, 4, state.TotalItems)
	assert.Equal(t, 4, state.ProcessedItems)
	assert.False(t, state.CompletedAt.IsZero())

	for _, ct := range []domain.ContentType{tProduct, tPage} {
		_, ok, err := f.states.Checkpoint(context.Background(), ct)
		require.NoError(t, err)
		assert.True(t, ok, "checkpoint for %s", ct)
	}

	history, err := f.orch.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.RunID, history[0].RunID)

	lockFree(t, f)
}

func TestSyncOrchestrator_RunFullSync_SecondRunEmbedsNothing(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)

	_, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)
	calls, _ := f.embedder.counts()

	report, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)

	after, _ := f.embedder.counts()
	assert.Equal(t, calls, after)
	assert.Zero(t, report.Totals().EmbeddingsGenerated)
}

func TestSyncOrchestrator_LockExclusivity(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.embedder.onEmbed = func() {
		once.Do(func() {
			close(started)
			<-release
		})
	}

	var (
		wg       sync.WaitGroup
		firstRep *domain.SyncReport
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstRep, firstErr = f.orch.RunFullSync(context.Background())
	}()

	<-started
	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseRunning, state.Phase)

	_, err = f.orch.RunFullSync(context.Background())
	require.ErrorIs(t, err, domain.ErrLockContention)
	var lce *domain.LockContentionError
	require.ErrorAs(t, err, &lce)
	assert.Equal(t, state.RunID, lce.Holder)

	close(release)
	wg.Wait()

	require.NoError(t, firstErr)
	assert.Equal(t, domain.SyncPhaseCompleted, firstRep.Phase)

	history, err := f.orch.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "the rejected call never reaches running")
	lockFree(t, f)
}

func TestSyncOrchestrator_Cancel(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		f.source.put(tProduct, id, "Product "+id+" description", t0)
	}

	var once sync.Once
	f.embedder.onEmbed = func() {
		once.Do(func() {
			ok, err := f.orch.Cancel(context.Background())
			assert.NoError(t, err)
			assert.True(t, ok)
		})
	}

	report, err := f.orch.RunFullSync(context.Background())
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, domain.SyncPhaseCancelled, report.Phase)
	assert.Less(t, report.Totals().Indexed, 6)

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseCancelled, state.Phase)
	lockFree(t, f)

	// Nothing to cancel once idle.
	ok, err := f.orch.Cancel(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncOrchestrator_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	f.embedder.onEmbed = func() { once.Do(cancel) }

	report, err := f.orch.RunFullSync(ctx)
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, domain.SyncPhaseCancelled, report.Phase)
	lockFree(t, f)
}

func TestSyncOrchestrator_RunIncrementalSync(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	_, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)
	_, textsBefore := f.embedder.counts()

	f.source.put(tProduct, "boots", "Leather walking boots", time.Now().Add(time.Minute))
	f.source.remove(tProduct, "hat")

	report, err := f.orch.RunIncrementalSync(context.Background(), tProduct)
	require.NoError(t, err)

	require.Len(t, report.Types, 1)
	assert.Equal(t, 1, report.Types[0].Indexed)
	assert.Equal(t, 1, report.Types[0].Removed)
	_, textsAfter := f.embedder.counts()
	assert.Equal(t, textsBefore+1, textsAfter)

	active, err := f.index.ListActiveContentIDs(context.Background(), tProduct)
	require.NoError(t, err)
	assert.Contains(t, active, "boots")
	assert.NotContains(t, active, "hat")

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OperationIncrementalSync, state.Operation)
	assert.Equal(t, tProduct, state.ContentType)
	assert.Equal(t, 1, state.Removed)
}

func TestSyncOrchestrator_RunIncrementalSync_WithoutCheckpoint(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)

	report, err := f.orch.RunIncrementalSync(context.Background(), tPage)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Indexed)
}

func TestSyncOrchestrator_RunIncrementalSync_UnknownType(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RunIncrementalSync(context.Background(), domain.ContentTypeFAQ)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	lockFree(t, f)
}

func TestSyncOrchestrator_FailedItemsAreRetried(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	poisonedAt := t0.Add(time.Hour)
	f.source.put(tProduct, "bad", "POISON mug", poisonedAt)
	f.embedder.failOn = "POISON"
	f.embedder.failErr = errors.New("upstream rejected input")

	report, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseCompleted, report.Phase)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.ContentRef{ContentType: tProduct, ContentID: "bad"}, report.Errors[0].Ref())
	assert.Equal(t, domain.StageEmbed, report.Errors[0].Stage)
	assert.Equal(t, []domain.ContentRef{{ContentType: tProduct, ContentID: "bad"}}, report.FailedRefs())

	checkpoint, ok, err := f.states.Checkpoint(context.Background(), tProduct)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, poisonedAt.Add(-time.Millisecond), checkpoint)

	f.embedder.failOn = ""
	report, err = f.orch.RunIncrementalSync(context.Background(), tProduct)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Indexed, "only the failed item is retried")
	assert.Empty(t, report.Errors)
}

func TestSyncOrchestrator_FatalProviderErrorFailsRun(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	f.embedder.failOn = "wool"
	f.embedder.failErr = &domain.FatalProviderError{Provider: "fake", Op: "embed", StatusCode: 403, Err: errors.New("quota")}

	report, err := f.orch.RunFullSync(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, domain.SyncPhaseFailed, report.Phase)
	assert.NotEmpty(t, report.Failure)
	assert.NotEmpty(t, report.Errors)

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseFailed, state.Phase)
	lockFree(t, f)
}

func TestSyncOrchestrator_QuotaExhaustedFailsOnFirstResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`))
	}))
	defer server.Close()

	embedder, err := openaiembed.New(openaiembed.Config{APIKey: "k", BaseURL: server.URL, MaxRetries: 3})
	require.NoError(t, err)

	f := newFixture(t)
	seedCatalog(f)
	indexer := NewIndexer(chunker.New(chunker.WithChunkSize(200), chunker.WithOverlap(20)),
		embedder, f.index, WithWorkers(1))
	orch := NewSyncOrchestrator(f.scanner, indexer, f.source, f.index, f.states, f.locks, SyncConfig{
		ContentTypes: []domain.ContentType{tProduct, tPage},
		BatchSize:    1,
	})

	report, err := orch.RunFullSync(context.Background())

	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.NotErrorIs(t, err, domain.ErrTooManyFailures)
	assert.Equal(t, domain.SyncPhaseFailed, report.Phase)
	assert.Equal(t, int32(1), calls.Load(), "quota errors are neither retried nor repeated per item")
	lockFree(t, f)
}

func TestSyncOrchestrator_RunFullSync_ScanFailure(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	f.source.listErr[tPage] = errors.New("pages endpoint down")

	report, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err, "one type failing to list does not fail the run")
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.StageScan, report.Errors[0].Stage)
	assert.Equal(t, tPage, report.Errors[0].ContentType)
	assert.Equal(t, 3, report.Totals().Indexed)

	f.source.listErr[tProduct] = errors.New("products endpoint down")
	report, err = f.orch.RunFullSync(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.SyncPhaseFailed, report.Phase)
}

func TestSyncOrchestrator_RemovedContentLeavesSearch(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "p1", "Red wool scarf", t0)
	f.source.put(tProduct, "p2", "Red wool scarf deluxe", t0)
	f.source.put(tProduct, "p3", "Red wool scarf mini", t0)
	_, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)

	f.source.remove(tProduct, "p2")
	_, err = f.orch.RunFullSync(context.Background())
	require.NoError(t, err)

	hits, err := f.index.Search(context.Background(), letterVector("red wool scarf"), searchAll())
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEqual(t, "p2", h.ContentID)
	}
}

func TestSyncOrchestrator_RunReindex(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	_, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)

	// Upstream edit that kept the old modification time.
	f.source.put(tProduct, "scarf", "Blue silk scarf", t0)
	f.source.remove(tProduct, "towel")

	report, err := f.orch.RunReindex(context.Background(), []domain.ContentRef{
		{ContentType: tProduct, ContentID: "scarf"},
		{ContentType: tProduct, ContentID: "towel"},
		{ContentType: tProduct, ContentID: "scarf"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OperationReindex, report.Operation)
	assert.Equal(t, 1, report.Totals().Indexed)
	assert.Equal(t, 1, report.Totals().Removed)

	hits, err := f.index.Search(context.Background(), letterVector("Blue silk scarf"), searchAll())
	require.NoError(t, err)
	var texts []string
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	assert.Contains(t, texts, "Blue silk scarf")
	assert.NotContains(t, texts, "Red wool scarf")
	assert.NotContains(t, texts, "Linen tea towel")
}

func TestSyncOrchestrator_RunReindex_Invalid(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RunReindex(context.Background(), []domain.ContentRef{{ContentType: tProduct}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.orch.RunReindex(context.Background(), []domain.ContentRef{{ContentType: domain.ContentTypeFAQ, ContentID: "1"}})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncOrchestrator_RunReindex_FetchError(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	f.source.fetchErr = errors.New("timeout")

	report, err := f.orch.RunReindex(context.Background(), []domain.ContentRef{{ContentType: tProduct, ContentID: "hat"}})
	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, domain.StageFetch, report.Errors[0].Stage)
}

func TestSyncOrchestrator_RunMaintenance(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	sched := memory.NewSchedulerStore()
	orch := NewSyncOrchestrator(f.scanner, f.indexer, f.source, f.index, f.states, f.locks, SyncConfig{
		ContentTypes:      []domain.ContentType{tProduct, tPage},
		InactiveRetention: time.Hour,
		HistoryKeep:       2,
	}, WithSyncClock(func() time.Time { return time.Now().Add(2 * time.Hour) }), WithSchedulerStore(sched))

	_, err := orch.RunFullSync(context.Background())
	require.NoError(t, err)
	f.source.remove(tProduct, "hat")
	_, err = orch.RunFullSync(context.Background())
	require.NoError(t, err)
	_, err = orch.RunFullSync(context.Background())
	require.NoError(t, err)

	result, err := orch.RunMaintenance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.PurgedEntries)
	assert.Equal(t, 1, result.PrunedRuns)

	health, err := orch.Health(context.Background())
	require.NoError(t, err)
	assert.Zero(t, health.InactiveEntries)
	assert.Equal(t, 3, health.ActiveEntries)

	// Two kept runs plus the maintenance run itself.
	history, err := orch.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.OperationMaintenance, history[0].Operation)
	lockFree(t, f)
}

func TestSyncOrchestrator_RunMaintenance_LockHeld(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.locks.TryAcquire(context.Background(), domain.SyncLockName, "other", time.Minute))

	_, err := f.orch.RunMaintenance(context.Background())
	require.ErrorIs(t, err, domain.ErrLockContention)
}

func TestSyncOrchestrator_Status_Abandoned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.states.SaveCurrent(context.Background(), &domain.SyncState{
		RunID:     "crashed-run",
		Phase:     domain.SyncPhaseRunning,
		Operation: domain.OperationFullSync,
		StartedAt: t0,
	}))

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseFailed, state.Phase)
	assert.True(t, strings.HasPrefix(state.Failure, "abandoned"))

	// A new run can start: the stale state holds no lock.
	f.source.put(tPage, "faq", "Returns within 30 days", t0)
	report, err := f.orch.RunFullSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseCompleted, report.Phase)
}

func TestSyncOrchestrator_Status_Idle(t *testing.T) {
	f := newFixture(t)

	state, err := f.orch.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncPhaseIdle, state.Phase)
}

func TestSyncOrchestrator_JobTimeout(t *testing.T) {
	f := newFixture(t)
	seedCatalog(f)
	orch := NewSyncOrchestrator(f.scanner, f.indexer, f.source, f.index, f.states, f.locks, SyncConfig{
		ContentTypes: []domain.ContentType{tProduct},
		BatchSize:    1,
		JobTimeout:   20 * time.Millisecond,
	})
	f.embedder.onEmbed = func() { time.Sleep(50 * time.Millisecond) }

	report, err := orch.RunFullSync(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.SyncPhaseFailed, report.Phase)
	assert.Contains(t, report.Failure, "job timeout")
	lockFree(t, f)
}
