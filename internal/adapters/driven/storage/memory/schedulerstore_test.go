package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

func TestSchedulerStore_Tasks(t *testing.T) {
	ctx := context.Background()
	s := NewSchedulerStore()

	task, err := s.GetTask(ctx, domain.TaskIDFullSync)
	require.NoError(t, err)
	assert.Nil(t, task)

	require.NoError(t, s.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDMaintenance, Interval: time.Hour}))
	require.NoError(t, s.SaveTask(ctx, &domain.ScheduledTask{ID: domain.TaskIDFullSync, Interval: 24 * time.Hour}))

	task, err = s.GetTask(ctx, domain.TaskIDFullSync)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 24*time.Hour, task.Interval)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDFullSync, tasks[0].ID)
	assert.Equal(t, domain.TaskIDMaintenance, tasks[1].ID)

	assert.ErrorIs(t, s.SaveTask(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_History(t *testing.T) {
	ctx := context.Background()
	s := NewSchedulerStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordResult(ctx, &domain.TaskResult{
			TaskID:    domain.TaskIDIncrementalSync,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Success:   i%2 == 0,
		}))
	}

	history, err := s.GetTaskHistory(ctx, domain.TaskIDIncrementalSync, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, base.Add(3*time.Hour), history[0].StartedAt)
	assert.Equal(t, base.Add(time.Hour), history[2].StartedAt)

	empty, err := s.GetTaskHistory(ctx, domain.TaskIDIncrementalSync, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.PruneHistory(ctx, 1))
	history, err = s.GetTaskHistory(ctx, domain.TaskIDIncrementalSync, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, base.Add(3*time.Hour), history[0].StartedAt)

	assert.ErrorIs(t, s.RecordResult(ctx, nil), domain.ErrInvalidInput)
}
