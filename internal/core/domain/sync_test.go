package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncPhase_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SyncPhase
		want     bool
	}{
		{SyncPhaseIdle, SyncPhaseRunning, true},
		{SyncPhaseIdle, SyncPhaseCompleted, false},
		{SyncPhaseRunning, SyncPhaseRunning, true},
		{SyncPhaseRunning, SyncPhaseCompleted, true},
		{SyncPhaseRunning, SyncPhaseFailed, true},
		{SyncPhaseRunning, SyncPhaseCancelled, true},
		{SyncPhaseRunning, SyncPhaseIdle, false},
		{SyncPhaseCompleted, SyncPhaseRunning, true},
		{SyncPhaseFailed, SyncPhaseCompleted, false},
		{SyncPhaseCancelled, SyncPhaseRunning, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestSyncState_Progress(t *testing.T) {
	var nilState *SyncState
	assert.Equal(t, 0.0, nilState.Progress())
	assert.False(t, nilState.IsRunning())

	s := &SyncState{Phase: SyncPhaseRunning, TotalItems: 4, ProcessedItems: 1}
	assert.InDelta(t, 0.25, s.Progress(), 1e-9)
	assert.True(t, s.IsRunning())

	s.ProcessedItems = 10
	assert.Equal(t, 1.0, s.Progress())
}

func TestSyncState_CloneIsDeep(t *testing.T) {
	s := &SyncState{RunID: "r", Errors: []ItemError{{ContentID: "1"}}}
	c := s.Clone()
	c.Errors[0].ContentID = "2"

	assert.Equal(t, "1", s.Errors[0].ContentID)
	assert.Nil(t, (*SyncState)(nil).Clone())
}

func TestSyncReport_FailedRefs(t *testing.T) {
	r := &SyncReport{Errors: []ItemError{
		{ContentType: ContentTypeProduct, ContentID: "1", Stage: StageEmbed},
		{ContentType: ContentTypeProduct, ContentID: "1", Stage: StageStore},
		{ContentType: ContentTypePage, ContentID: "9", Stage: StageNormalise},
		{ContentType: ContentTypePage, ContentID: "", Stage: StageScan},
	}}

	refs := r.FailedRefs()
	assert.Equal(t, []ContentRef{
		{ContentType: ContentTypeProduct, ContentID: "1"},
		{ContentType: ContentTypePage, ContentID: "9"},
	}, refs)
}

func TestSyncReport_Totals(t *testing.T) {
	r := &SyncReport{Types: []TypeReport{
		{ContentType: ContentTypeProduct, Indexed: 2, ChunksCreated: 5, EmbeddingsGenerated: 3},
		{ContentType: ContentTypePage, Indexed: 1, Removed: 4, ChunksCreated: 1},
	}}
	tot := r.Totals()
	assert.Equal(t, 3, tot.Indexed)
	assert.Equal(t, 4, tot.Removed)
	assert.Equal(t, 6, tot.ChunksCreated)
	assert.Equal(t, 3, tot.EmbeddingsGenerated)
}

func TestNewItemError(t *testing.T) {
	ref := ContentRef{ContentType: ContentTypeFAQ, ContentID: "7"}
	e := NewItemError(ref, StageEmbed, errors.New("timeout"))

	assert.Equal(t, ref, e.Ref())
	assert.Equal(t, "faq/7 [embed]: timeout", e.String())
	assert.Empty(t, NewItemError(ref, StageEmbed, nil).Message)
}

func TestIndexResult_Merge(t *testing.T) {
	a := IndexResult{ItemsIndexed: 1, ChunksCreated: 2, EmbeddingsGenerated: 2}
	a.Merge(IndexResult{ItemsIndexed: 2, ChunksCreated: 3, Errors: []ItemError{{ContentID: "x"}}})

	assert.Equal(t, 3, a.ItemsIndexed)
	assert.Equal(t, 5, a.ChunksCreated)
	assert.Equal(t, 2, a.EmbeddingsGenerated)
	assert.Len(t, a.Errors, 1)
}
