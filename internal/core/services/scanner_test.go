package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// indexType runs a full diff of contentType and indexes the result.
func indexType(t *testing.T, f *fixture, contentType domain.ContentType) {
	t.Helper()
	diff, err := f.scanner.Diff(context.Background(), contentType, nil)
	require.NoError(t, err)
	_, err = f.indexer.Process(context.Background(), diff.ToIndex, 10, nil)
	require.NoError(t, err)
}

func ids(items []domain.ContentItem) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}

func TestScanner_Diff_Full(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "b", "Blue running shoes", t0)
	f.source.put(tProduct, "a", "Red wool scarf", t0.Add(time.Hour))

	diff, err := f.scanner.Diff(context.Background(), tProduct, nil)
	require.NoError(t, err)

	assert.Equal(t, tProduct, diff.ContentType)
	assert.Equal(t, []string{"a", "b"}, ids(diff.ToIndex))
	assert.Empty(t, diff.ToRemove)
	assert.Empty(t, diff.Invalid)
	assert.Equal(t, "Red wool scarf", diff.ToIndex[0].RawText)
	assert.Equal(t, "Title a", diff.ToIndex[0].Title)
}

func TestScanner_Diff_FullReturnsIndexedItems(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "a", "Red wool scarf", t0)
	indexType(t, f, tProduct)

	diff, err := f.scanner.Diff(context.Background(), tProduct, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(diff.ToIndex))
}

func TestScanner_Diff_IncrementalSkipsCurrentVersions(t *testing.T) {
	f := newFixture(t)
	t1 := t0
	t2 := t0.Add(time.Hour)
	f.source.put(tProduct, "A", "Red wool scarf", t1)
	indexType(t, f, tProduct)
	f.source.put(tProduct, "B", "Green cotton hat", t2)

	since := t1.Add(-time.Millisecond)
	diff, err := f.scanner.Diff(context.Background(), tProduct, &since)
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, ids(diff.ToIndex))
	assert.Empty(t, diff.ToRemove)
}

func TestScanner_Diff_FullDetectsDeletions(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "A", "Red wool scarf", t0)
	f.source.put(tProduct, "B", "Green cotton hat", t0.Add(time.Hour))
	indexType(t, f, tProduct)
	f.source.remove(tProduct, "B")

	diff, err := f.scanner.Diff(context.Background(), tProduct, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, ids(diff.ToIndex))
	assert.Equal(t, []string{"B"}, diff.ToRemove)
}

func TestScanner_Diff_IncrementalPicksUpEdits(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "A", "Red wool scarf", t0)
	indexType(t, f, tProduct)
	f.source.put(tProduct, "A", "Red wool scarf, now in blue", t0.Add(time.Minute))

	since := t0
	diff, err := f.scanner.Diff(context.Background(), tProduct, &since)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(diff.ToIndex))
}

func TestScanner_Diff_IncrementalDetectsDeletions(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "A", "Red wool scarf", t0)
	f.source.put(tProduct, "B", "Green cotton hat", t0)
	indexType(t, f, tProduct)
	f.source.remove(tProduct, "A")

	since := t0.Add(time.Hour)
	diff, err := f.scanner.Diff(context.Background(), tProduct, &since)
	require.NoError(t, err)

	assert.Empty(t, diff.ToIndex)
	assert.Equal(t, []string{"A"}, diff.ToRemove)
}

func TestScanner_Diff_InvalidItems(t *testing.T) {
	f := newFixture(t)
	f.source.put(tProduct, "empty", "   ", t0)
	f.source.put(tProduct, "good", "Linen shirt", t0)
	f.source.put(tProduct, "binary", "ignored", t0)
	f.source.items[tProduct]["binary"] = func() domain.ContentItem {
		item := f.source.items[tProduct]["binary"]
		item.MIMEType = "application/x-unknown"
		return item
	}()

	diff, err := f.scanner.Diff(context.Background(), tProduct, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, ids(diff.ToIndex))
	require.Len(t, diff.Invalid, 2)
	for _, e := range diff.Invalid {
		assert.Equal(t, domain.StageNormalise, e.Stage)
		assert.Equal(t, tProduct, e.ContentType)
	}
	assert.ElementsMatch(t, []string{"binary", "empty"},
		[]string{diff.Invalid[0].ContentID, diff.Invalid[1].ContentID})
}

func TestScanner_Diff_InvalidContentType(t *testing.T) {
	f := newFixture(t)

	_, err := f.scanner.Diff(context.Background(), domain.ContentType("Bad Type"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestScanner_Diff_ListError(t *testing.T) {
	f := newFixture(t)
	f.source.listErr[tProduct] = errors.New("connection refused")

	_, err := f.scanner.Diff(context.Background(), tProduct, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestScanner_Prepare(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		item    domain.ContentItem
		wantErr bool
	}{
		{
			name: "valid",
			item: domain.ContentItem{ID: "1", ContentType: tPage, RawPayload: []byte(" Shipping policy ")},
		},
		{
			name:    "missing id",
			item:    domain.ContentItem{ContentType: tPage, RawPayload: []byte("x")},
			wantErr: true,
		},
		{
			name:    "invalid type",
			item:    domain.ContentItem{ID: "1", ContentType: "", RawPayload: []byte("x")},
			wantErr: true,
		},
		{
			name:    "no text",
			item:    domain.ContentItem{ID: "1", ContentType: tPage},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			err := f.scanner.Prepare(context.Background(), &item)
			if tt.wantErr {
				var ve *domain.ValidationError
				assert.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Shipping policy", item.RawText)
		})
	}
}
