package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
	"github.com/custodia-labs/storekb/internal/core/ports/driven"
	"github.com/custodia-labs/storekb/internal/logger"
)

// Scanner lists content from the source, normalises it and diffs it
// against the vector index.
type Scanner struct {
	source   driven.ContentSource
	index    driven.VectorIndex
	registry driven.NormaliserRegistry
	now      func() time.Time
}

// NewScanner creates a scanner.
func NewScanner(source driven.ContentSource, index driven.VectorIndex, registry driven.NormaliserRegistry) *Scanner {
	return &Scanner{
		source:   source,
		index:    index,
		registry: registry,
		now:      time.Now,
	}
}

// Diff computes what must be indexed and removed for one content type.
//
// With a nil since every live item is returned in ToIndex. With a since,
// only items modified strictly after it, and after the version already in
// the index, are returned. ToRemove is always computed against the full set
// of live IDs: a deleted item has no modification time to filter on.
func (s *Scanner) Diff(ctx context.Context, contentType domain.ContentType, since *time.Time) (*domain.ScanDiff, error) {
	if !contentType.IsValid() {
		return nil, domain.NewValidationError(domain.ContentRef{ContentType: contentType}, "invalid content type")
	}

	diff := &domain.ScanDiff{
		ContentType: contentType,
		ScannedAt:   s.now(),
	}

	// 1. LIST CANDIDATES
	var after time.Time
	if since != nil {
		after = *since
	}
	items, err := s.source.ListModifiedSince(ctx, contentType, after)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", contentType, err)
	}

	// 2. LIVE SET
	live := make(map[string]struct{}, len(items))
	if since == nil {
		for i := range items {
			live[items[i].ID] = struct{}{}
		}
	} else {
		ids, err := s.source.ListAllIDs(ctx, contentType)
		if err != nil {
			return nil, fmt.Errorf("list %s ids: %w", contentType, err)
		}
		for _, id := range ids {
			live[id] = struct{}{}
		}
	}

	// 3. SKIP CURRENT VERSIONS
	var versions map[string]time.Time
	if since != nil {
		versions, err = s.index.IndexedVersions(ctx, contentType)
		if err != nil {
			return nil, fmt.Errorf("list indexed %s versions: %w", contentType, err)
		}
	}

	// 4. NORMALISE AND VALIDATE
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		item := items[i]
		if since != nil {
			if !item.ModifiedAt.After(*since) {
				continue
			}
			if v, ok := versions[item.ID]; ok && !newer(item.ModifiedAt, v) {
				continue
			}
		}
		if _, dup := seen[item.ID]; dup && item.ID != "" {
			logger.Debug("Scanner: duplicate %s/%s ignored", contentType, item.ID)
			continue
		}
		seen[item.ID] = struct{}{}

		if item.ContentType == "" {
			item.ContentType = contentType
		}
		if err := s.Prepare(ctx, &item); err != nil {
			logger.Warn("Skipping %s/%s: %v", contentType, item.ID, err)
			diff.Invalid = append(diff.Invalid, domain.NewItemError(item.Ref(), domain.StageNormalise, err))
			continue
		}
		diff.ToIndex = append(diff.ToIndex, item)
	}

	// 5. DELETIONS
	active, err := s.index.ListActiveContentIDs(ctx, contentType)
	if err != nil {
		return nil, fmt.Errorf("list indexed %s ids: %w", contentType, err)
	}
	for id := range active {
		if _, ok := live[id]; !ok {
			diff.ToRemove = append(diff.ToRemove, id)
		}
	}
	sort.Strings(diff.ToRemove)

	logger.Debug("Scanner: %s: %d to index, %d to remove, %d invalid",
		contentType, len(diff.ToIndex), len(diff.ToRemove), len(diff.Invalid))
	return diff, nil
}

// newer compares at millisecond precision, the resolution of stored versions.
func newer(modified, indexed time.Time) bool {
	return modified.Truncate(time.Millisecond).After(indexed.Truncate(time.Millisecond))
}

// Prepare normalises item in place and validates it.
// A returned error is always a *domain.ValidationError.
func (s *Scanner) Prepare(ctx context.Context, item *domain.ContentItem) error {
	ref := item.Ref()
	if strings.TrimSpace(item.ID) == "" {
		return domain.NewValidationError(ref, "missing id")
	}
	if !item.ContentType.IsValid() {
		return domain.NewValidationError(ref, "invalid content type")
	}

	result, err := s.registry.Normalise(ctx, item)
	if err != nil {
		return domain.NewValidationError(ref, "normalise: "+err.Error())
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return domain.NewValidationError(ref, "no text after normalisation")
	}

	item.RawText = text
	if item.Title == "" {
		item.Title = result.Title
	}
	return nil
}
