package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
)

// lookupBatch bounds the number of bound parameters per IN clause.
const lookupBatch = 500

// VectorIndex implements driven.VectorIndex on the index_entries table.
// Similarity is computed in process after loading candidate rows.
type VectorIndex struct {
	store *Store
}

var _ driven.VectorIndex = (*VectorIndex)(nil)

const upsertEntrySQL = `
	INSERT INTO index_entries (
		chunk_hash, content_hash, content_type, content_id, chunk_index, total_chunks,
		text, embedding, dimensions, embedding_model, metadata, source_modified, updated_at, active
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT(chunk_hash) DO UPDATE SET
		content_hash = excluded.content_hash,
		chunk_index = excluded.chunk_index,
		total_chunks = excluded.total_chunks,
		text = excluded.text,
		embedding = excluded.embedding,
		dimensions = excluded.dimensions,
		embedding_model = excluded.embedding_model,
		metadata = excluded.metadata,
		source_modified = excluded.source_modified,
		updated_at = excluded.updated_at,
		active = 1
`

// Upsert inserts or updates entries in a single transaction.
func (v *VectorIndex) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return v.inTx(ctx, "upsert", func(tx *sql.Tx) error {
		return v.upsertTx(ctx, tx, entries)
	})
}

// ReplaceContent writes the entries of one item and deletes the rest of its rows.
func (v *VectorIndex) ReplaceContent(
	ctx context.Context, contentType domain.ContentType, contentID string, entries []domain.IndexEntry,
) error {
	for i := range entries {
		if entries[i].ContentType != contentType || entries[i].ContentID != contentID {
			return domain.NewValidationError(
				domain.ContentRef{ContentType: contentType, ContentID: contentID},
				"entry "+entries[i].ChunkHash+" belongs to another content item")
		}
	}

	return v.inTx(ctx, "replace content", func(tx *sql.Tx) error {
		if err := v.upsertTx(ctx, tx, entries); err != nil {
			return err
		}

		query := "DELETE FROM index_entries WHERE content_type = ? AND content_id = ?"
		args := []any{string(contentType), contentID}
		if len(entries) > 0 {
			query += " AND chunk_hash NOT IN (" + placeholders(len(entries)) + ")"
			for i := range entries {
				args = append(args, entries[i].ChunkHash)
			}
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("deleting stale chunks: %w", err)
		}
		return nil
	})
}

func (v *VectorIndex) upsertTx(ctx context.Context, tx *sql.Tx, entries []domain.IndexEntry) error {
	stmt, err := tx.PrepareContext(ctx, upsertEntrySQL)
	if err != nil {
		return fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := v.store.now()
	for i := range entries {
		e := &entries[i]
		if e.ChunkHash == "" {
			return domain.NewValidationError(domain.ContentRef{ContentType: e.ContentType, ContentID: e.ContentID},
				"entry has no chunk hash")
		}
		if len(e.Embedding) == 0 {
			return domain.NewValidationError(domain.ContentRef{ContentType: e.ContentType, ContentID: e.ContentID},
				"entry has no embedding")
		}

		metadata, err := marshalMetadata(e.Metadata)
		if err != nil {
			return err
		}
		updatedAt := e.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}

		if _, err := stmt.ExecContext(ctx,
			e.ChunkHash, e.ContentHash, string(e.ContentType), e.ContentID, e.ChunkIndex, e.TotalChunks,
			e.Text, float32SliceToBytes(e.Embedding), len(e.Embedding), e.EmbeddingModel, metadata,
			toMillis(e.SourceModifiedAt), toMillis(updatedAt),
		); err != nil {
			return fmt.Errorf("upserting chunk %s: %w", e.ChunkHash, err)
		}
	}
	return nil
}

// Deactivate marks every active entry of an item inactive.
func (v *VectorIndex) Deactivate(ctx context.Context, contentType domain.ContentType, contentID string) (int, error) {
	res, err := v.store.db.ExecContext(ctx, `
		UPDATE index_entries SET active = 0, updated_at = ?
		WHERE content_type = ? AND content_id = ? AND active = 1
	`, toMillis(v.store.now()), string(contentType), contentID)
	if err != nil {
		return 0, &domain.StorageError{Op: "deactivate", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "deactivate", Err: err}
	}
	return int(n), nil
}

// Search scores active entries against query.
func (v *VectorIndex) Search(
	ctx context.Context, query []float32, opts driven.SearchOptions,
) ([]domain.RetrievalResult, error) {
	results := []domain.RetrievalResult{}
	if len(query) == 0 || opts.Limit <= 0 {
		return results, nil
	}

	q := `
		SELECT chunk_hash, content_type, content_id, chunk_index, text, embedding, metadata, updated_at
		FROM index_entries
		WHERE active = 1 AND dimensions = ?`
	args := []any{len(query)}
	if len(opts.ContentTypes) > 0 {
		q += " AND content_type IN (" + placeholders(len(opts.ContentTypes)) + ")"
		for _, ct := range opts.ContentTypes {
			args = append(args, string(ct))
		}
	}

	rows, err := v.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.RetrievalResult
		var contentType string
		var blob []byte
		var metadata sql.NullString
		var updatedAt int64
		if err := rows.Scan(&r.ChunkHash, &contentType, &r.ContentID, &r.ChunkIndex,
			&r.Text, &blob, &metadata, &updatedAt); err != nil {
			return nil, &domain.StorageError{Op: "search", Err: err}
		}

		r.Similarity = domain.CosineSimilarity(query, bytesToFloat32Slice(blob))
		if r.Similarity < opts.MinSimilarity {
			continue
		}
		r.ContentType = domain.ContentType(contentType)
		r.UpdatedAt = fromMillis(updatedAt)
		r.Metadata = unmarshalMetadata(metadata)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "search", Err: err}
	}

	domain.SortResults(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// ListActiveContentIDs returns IDs with at least one active entry.
func (v *VectorIndex) ListActiveContentIDs(
	ctx context.Context, contentType domain.ContentType,
) (map[string]struct{}, error) {
	rows, err := v.store.db.QueryContext(ctx, `
		SELECT DISTINCT content_id FROM index_entries
		WHERE content_type = ? AND active = 1
	`, string(contentType))
	if err != nil {
		return nil, &domain.StorageError{Op: "list active ids", Err: err}
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &domain.StorageError{Op: "list active ids", Err: err}
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list active ids", Err: err}
	}
	return ids, nil
}

// IndexedVersions returns the newest source modification time recorded for
// each active item of contentType.
func (v *VectorIndex) IndexedVersions(
	ctx context.Context, contentType domain.ContentType,
) (map[string]time.Time, error) {
	rows, err := v.store.db.QueryContext(ctx, `
		SELECT content_id, MAX(source_modified) FROM index_entries
		WHERE content_type = ? AND active = 1
		GROUP BY content_id
	`, string(contentType))
	if err != nil {
		return nil, &domain.StorageError{Op: "indexed versions", Err: err}
	}
	defer rows.Close()

	versions := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var modified int64
		if err := rows.Scan(&id, &modified); err != nil {
			return nil, &domain.StorageError{Op: "indexed versions", Err: err}
		}
		versions[id] = fromMillis(modified)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "indexed versions", Err: err}
	}
	return versions, nil
}

// Lookup returns existing entries keyed by chunk hash.
func (v *VectorIndex) Lookup(ctx context.Context, chunkHashes []string) (map[string]domain.IndexedChunk, error) {
	found := make(map[string]domain.IndexedChunk, len(chunkHashes))
	for start := 0; start < len(chunkHashes); start += lookupBatch {
		end := min(start+lookupBatch, len(chunkHashes))
		batch := chunkHashes[start:end]

		args := make([]any, len(batch))
		for i, h := range batch {
			args[i] = h
		}
		rows, err := v.store.db.QueryContext(ctx, `
			SELECT chunk_hash, content_hash, embedding_model, total_chunks, active FROM index_entries
			WHERE chunk_hash IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, &domain.StorageError{Op: "lookup", Err: err}
		}

		for rows.Next() {
			var c domain.IndexedChunk
			var active int
			if err := rows.Scan(&c.ChunkHash, &c.ContentHash, &c.EmbeddingModel, &c.TotalChunks, &active); err != nil {
				rows.Close()
				return nil, &domain.StorageError{Op: "lookup", Err: err}
			}
			c.Active = active == 1
			found[c.ChunkHash] = c
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, &domain.StorageError{Op: "lookup", Err: err}
		}
	}
	return found, nil
}

// EmbeddingsByContentHash returns stored vectors for already-embedded texts.
func (v *VectorIndex) EmbeddingsByContentHash(
	ctx context.Context, model string, contentHashes []string,
) (map[string][]float32, error) {
	found := make(map[string][]float32, len(contentHashes))
	for start := 0; start < len(contentHashes); start += lookupBatch {
		end := min(start+lookupBatch, len(contentHashes))
		batch := contentHashes[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, model)
		for _, h := range batch {
			args = append(args, h)
		}
		rows, err := v.store.db.QueryContext(ctx, `
			SELECT content_hash, embedding FROM index_entries
			WHERE embedding_model = ? AND content_hash IN (`+placeholders(len(batch))+`)`, args...)
		if err != nil {
			return nil, &domain.StorageError{Op: "embeddings by text", Err: err}
		}

		for rows.Next() {
			var hash string
			var blob []byte
			if err := rows.Scan(&hash, &blob); err != nil {
				rows.Close()
				return nil, &domain.StorageError{Op: "embeddings by text", Err: err}
			}
			if _, ok := found[hash]; !ok {
				found[hash] = bytesToFloat32Slice(blob)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, &domain.StorageError{Op: "embeddings by text", Err: err}
		}
	}
	return found, nil
}

// PurgeInactive deletes inactive entries last updated before the cutoff.
func (v *VectorIndex) PurgeInactive(ctx context.Context, before time.Time) (int, error) {
	res, err := v.store.db.ExecContext(ctx,
		"DELETE FROM index_entries WHERE active = 0 AND updated_at < ?", toMillis(before))
	if err != nil {
		return 0, &domain.StorageError{Op: "purge inactive", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.StorageError{Op: "purge inactive", Err: err}
	}
	return int(n), nil
}

// Health summarises entry counts per type, state and model.
func (v *VectorIndex) Health(ctx context.Context) (*domain.IndexHealth, error) {
	h := &domain.IndexHealth{
		ActiveByType:       make(map[domain.ContentType]int),
		InactiveByType:     make(map[domain.ContentType]int),
		ContentItemsByType: make(map[domain.ContentType]int),
		EntriesByModel:     make(map[string]int),
	}

	rows, err := v.store.db.QueryContext(ctx, `
		SELECT content_type, active, COUNT(*), COUNT(DISTINCT content_id)
		FROM index_entries GROUP BY content_type, active
	`)
	if err != nil {
		return nil, &domain.StorageError{Op: "health", Err: err}
	}
	for rows.Next() {
		var ct string
		var active, entries, items int
		if err := rows.Scan(&ct, &active, &entries, &items); err != nil {
			rows.Close()
			return nil, &domain.StorageError{Op: "health", Err: err}
		}
		h.TotalEntries += entries
		if active == 1 {
			h.ActiveEntries += entries
			h.ActiveByType[domain.ContentType(ct)] = entries
			h.ContentItemsByType[domain.ContentType(ct)] = items
		} else {
			h.InactiveEntries += entries
			h.InactiveByType[domain.ContentType(ct)] = entries
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, &domain.StorageError{Op: "health", Err: err}
	}

	rows, err = v.store.db.QueryContext(ctx, `
		SELECT embedding_model, COUNT(*) FROM index_entries
		WHERE active = 1 GROUP BY embedding_model
	`)
	if err != nil {
		return nil, &domain.StorageError{Op: "health", Err: err}
	}
	for rows.Next() {
		var model string
		var n int
		if err := rows.Scan(&model, &n); err != nil {
			rows.Close()
			return nil, &domain.StorageError{Op: "health", Err: err}
		}
		h.EntriesByModel[model] = n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, &domain.StorageError{Op: "health", Err: err}
	}

	var last sql.NullInt64
	if err := v.store.db.QueryRowContext(ctx, "SELECT MAX(updated_at) FROM index_entries").Scan(&last); err != nil {
		return nil, &domain.StorageError{Op: "health", Err: err}
	}
	if last.Valid {
		h.LastUpdated = fromMillis(last.Int64)
	}

	return h, nil
}

// Close is a no-op; the Store owns the connection.
func (v *VectorIndex) Close() error {
	return nil
}

// inTx runs fn in a transaction, wrapping failures as StorageError.
// Validation errors pass through unwrapped.
func (v *VectorIndex) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &domain.StorageError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: op, Err: err}
	}
	return nil
}

func marshalMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}
