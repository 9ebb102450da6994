package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/metrics"
)

// DefaultBatchSize is the number of items processed between progress checkpoints.
const DefaultBatchSize = 50

// DefaultWorkers bounds concurrent item processing within a batch.
// The dominant cost is provider I/O, so this follows provider rate limits
// rather than CPU count.
const DefaultWorkers = 4

// BatchFunc is called after each batch with the number of items handled so
// far and the batch's result. Returning an error stops processing.
type BatchFunc func(ctx context.Context, processed int, batch domain.IndexResult) error

// Indexer turns content items into embedded index entries.
type Indexer struct {
	chunker  driven.Chunker
	embedder driven.EmbeddingProvider
	index    driven.VectorIndex

	workers        int
	maxConsecutive int
	now            func() time.Time
	log            *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithWorkers sets the number of items processed concurrently.
func WithWorkers(n int) IndexerOption {
	return func(x *Indexer) {
		if n > 0 {
			x.workers = n
		}
	}
}

// WithMaxConsecutiveFailures aborts processing after n failed items in a row.
// Zero disables the limit.
func WithMaxConsecutiveFailures(n int) IndexerOption {
	return func(x *Indexer) {
		if n >= 0 {
			x.maxConsecutive = n
		}
	}
}

// WithIndexerLogger sets the logger.
func WithIndexerLogger(l *zap.Logger) IndexerOption {
	return func(x *Indexer) {
		if l != nil {
			x.log = l
		}
	}
}

// WithIndexerClock overrides time.Now for entry timestamps.
func WithIndexerClock(now func() time.Time) IndexerOption {
	return func(x *Indexer) {
		if now != nil {
			x.now = now
		}
	}
}

// NewIndexer creates an indexer.
func NewIndexer(
	chunker driven.Chunker,
	embedder driven.EmbeddingProvider,
	index driven.VectorIndex,
	opts ...IndexerOption,
) *Indexer {
	x := &Indexer{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		workers:  DefaultWorkers,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// itemOutcome is the result of indexing one item.
type itemOutcome struct {
	chunksCreated int
	embedded      int
	reused        int
	err           *domain.ItemError
	fatal         error
}

// Process indexes items in batches of batchSize. Item failures are recorded
// in the result and do not stop the batch. Processing stops early when
// after returns an error, when a provider reports a fatal error, or when the
// consecutive failure limit is reached; the result then covers every batch
// that completed.
func (x *Indexer) Process(
	ctx context.Context, items []domain.ContentItem, batchSize int, after BatchFunc,
) (domain.IndexResult, error) {
	if x.embedder == nil {
		return domain.IndexResult{}, domain.ErrEmbeddingUnavailable
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	items = dedupeItems(items)

	var total domain.IndexResult
	consecutive := 0
	for start := 0; start < len(items); start += batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+batchSize, len(items))
		batch := items[start:end]

		outcomes, err := x.processBatch(ctx, batch)
		if err != nil {
			return total, err
		}

		var result domain.IndexResult
		var fatal error
		for i, o := range outcomes {
			if o.err != nil {
				result.Errors = append(result.Errors, *o.err)
				consecutive++
				if fatal == nil && o.fatal != nil {
					fatal = o.fatal
				}
				if x.maxConsecutive > 0 && consecutive >= x.maxConsecutive && fatal == nil {
					fatal = fmt.Errorf("%w: %d items in a row, last %s", domain.ErrTooManyFailures,
						consecutive, batch[i].Ref())
				}
				continue
			}
			consecutive = 0
			result.ItemsIndexed++
			result.ChunksCreated += o.chunksCreated
			result.EmbeddingsGenerated += o.embedded
			metrics.Embeddings.WithLabelValues("generated").Add(float64(o.embedded))
			metrics.Embeddings.WithLabelValues("reused").Add(float64(o.reused))
		}
		total.Merge(result)

		x.log.Debug("batch indexed",
			zap.Int("batch", start/batchSize),
			zap.Int("items", len(batch)),
			zap.Int("chunks_created", result.ChunksCreated),
			zap.Int("embeddings", result.EmbeddingsGenerated),
			zap.Int("errors", len(result.Errors)))

		// The callback sees every completed batch, including one that
		// ends processing, so no item error goes unreported.
		if after != nil {
			if err := after(ctx, end, result); err != nil && fatal == nil {
				return total, err
			}
		}
		if fatal != nil {
			return total, fatal
		}
	}
	return total, nil
}

// processBatch indexes one batch on the worker pool. Outcomes are returned
// in item order.
func (x *Indexer) processBatch(ctx context.Context, batch []domain.ContentItem) ([]itemOutcome, error) {
	outcomes := make([]itemOutcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	for i := range batch {
		g.Go(func() error {
			outcomes[i] = x.processItem(gctx, &batch[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// processItem chunks, embeds and stores one item.
//
//nolint:gocyclo // Pipeline with sequential steps
func (x *Indexer) processItem(ctx context.Context, item *domain.ContentItem) itemOutcome {
	ref := item.Ref()
	fail := func(stage string, err error) itemOutcome {
		ie := domain.NewItemError(ref, stage, err)
		o := itemOutcome{err: &ie}
		if domain.IsFatal(err) {
			o.fatal = err
		}
		return o
	}

	// 1. CHUNK
	chunks := x.chunker.Split(item)
	if len(chunks) == 0 {
		return fail(domain.StageChunk, domain.NewValidationError(ref, "no chunks produced"))
	}

	// 2. LOOK UP EXISTING ENTRIES
	hashes := make([]string, len(chunks))
	for i := range chunks {
		hashes[i] = chunks[i].Hash
	}
	existing, err := x.index.Lookup(ctx, hashes)
	if err != nil {
		return fail(domain.StageStore, err)
	}

	model := x.embedder.ModelName()
	if unchanged(chunks, existing, model) {
		return itemOutcome{}
	}

	// 3. REUSE VECTORS FOR KNOWN TEXT
	contentHashes := make([]string, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i := range chunks {
		if _, ok := seen[chunks[i].ContentHash]; ok {
			continue
		}
		seen[chunks[i].ContentHash] = struct{}{}
		contentHashes = append(contentHashes, chunks[i].ContentHash)
	}
	vectors, err := x.index.EmbeddingsByContentHash(ctx, model, contentHashes)
	if err != nil {
		return fail(domain.StageStore, err)
	}
	if vectors == nil {
		vectors = make(map[string][]float32, len(contentHashes))
	}
	reused := len(vectors)

	// 4. EMBED THE REST
	var missing []string
	var texts []string
	for i := range chunks {
		h := chunks[i].ContentHash
		if _, ok := vectors[h]; ok {
			continue
		}
		if _, queued := seen[h]; !queued {
			continue
		}
		delete(seen, h)
		missing = append(missing, h)
		texts = append(texts, chunks[i].Text)
	}
	if len(texts) > 0 {
		embedded, err := x.embedder.Embed(ctx, texts)
		if err != nil {
			return fail(domain.StageEmbed, err)
		}
		if len(embedded) != len(texts) {
			return fail(domain.StageEmbed, &domain.EmbeddingError{
				BatchIndices: indices(len(texts)),
				Err:          fmt.Errorf("provider returned %d vectors for %d texts", len(embedded), len(texts)),
			})
		}
		for i, h := range missing {
			vectors[h] = embedded[i]
		}
	}

	// 5. STORE
	now := x.now()
	metadata := entryMetadata(item)
	entries := make([]domain.IndexEntry, len(chunks))
	created := 0
	for i := range chunks {
		c := &chunks[i]
		if _, ok := existing[c.Hash]; !ok {
			created++
		}
		entries[i] = domain.IndexEntry{
			ChunkHash:      c.Hash,
			ContentHash:    c.ContentHash,
			ContentType:    c.ContentType,
			ContentID:      c.ContentID,
			ChunkIndex:     c.Index,
			TotalChunks:    c.Total,
			Text:           c.Text,
			Embedding:      vectors[c.ContentHash],
			EmbeddingModel: model,
			Metadata:       metadata,

			SourceModifiedAt: item.ModifiedAt,
			UpdatedAt:        now,
			Active:           true,
		}
	}
	if err := x.index.ReplaceContent(ctx, item.ContentType, item.ID, entries); err != nil {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) && !domain.IsStorage(err) {
			err = &domain.StorageError{Op: "replace content", Err: err}
		}
		return fail(domain.StageStore, err)
	}

	return itemOutcome{chunksCreated: created, embedded: len(texts), reused: reused}
}

// unchanged reports whether every chunk is already stored, active, embedded
// with model and written in the same pass as its siblings. Entries of one
// item are always written together, so matching TotalChunks rules out
// leftover entries from a longer earlier version.
func unchanged(chunks []domain.Chunk, existing map[string]domain.IndexedChunk, model string) bool {
	if len(existing) != len(chunks) {
		return false
	}
	for i := range chunks {
		e, ok := existing[chunks[i].Hash]
		if !ok || !e.Active || e.EmbeddingModel != model || e.TotalChunks != chunks[i].Total {
			return false
		}
	}
	return true
}

// entryMetadata builds the metadata stored with every chunk of item.
func entryMetadata(item *domain.ContentItem) map[string]any {
	m := make(map[string]any, len(item.SourceMetadata)+3)
	for k, v := range item.SourceMetadata {
		m[k] = v
	}
	if item.Title != "" {
		m[domain.MetaTitle] = item.Title
	}
	if item.URL != "" {
		m[domain.MetaURL] = item.URL
	}
	if !item.ModifiedAt.IsZero() {
		m[domain.MetaModifiedAt] = item.ModifiedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// dedupeItems keeps the last occurrence of each item so that two workers
// never write the same chunk hashes.
func dedupeItems(items []domain.ContentItem) []domain.ContentItem {
	last := make(map[domain.ContentRef]int, len(items))
	for i := range items {
		last[items[i].Ref()] = i
	}
	if len(last) == len(items) {
		return items
	}
	out := make([]domain.ContentItem, 0, len(last))
	for i := range items {
		if last[items[i].Ref()] == i {
			out = append(out, items[i])
		}
	}
	return out
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
