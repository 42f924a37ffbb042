package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	n := NewInMemory(time.Hour)

	require.NoError(t, n.Start(ctx, "job-1", "TEI_IMPORT"))
	require.NoError(t, n.Notify(ctx, "job-1", LevelInfo, "Importing tracked entities", false))

	task, err := n.Task(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, task.Status)
	assert.Equal(t, "TEI_IMPORT", task.JobType)

	require.NoError(t, n.Notify(ctx, "job-1", LevelInfo, "Import done", true))
	require.NoError(t, n.Complete(ctx, "job-1", map[string]int{"imported": 2}))

	task, err = n.Task(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	require.Len(t, task.Notifications, 2)
	assert.Equal(t, "Import done", task.Notifications[0].Message, "newest first")
	assert.True(t, task.Notifications[0].Completed)
	assert.NotEmpty(t, task.Notifications[0].UID)
	assert.Equal(t, map[string]int{"imported": 2}, task.Summary)
}

func TestInMemory_Failure(t *testing.T) {
	ctx := context.Background()
	n := NewInMemory(0)
	require.NoError(t, n.Start(ctx, "job-2", "ENROLLMENT_IMPORT"))
	require.NoError(t, n.Notify(ctx, "job-2", LevelError, "Process failed: boom", true))
	require.NoError(t, n.Complete(ctx, "job-2", nil))

	task, err := n.Task(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
}

func TestInMemory_UnknownTask(t *testing.T) {
	ctx := context.Background()
	n := NewInMemory(0)
	_, err := n.Task(ctx, "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, n.Notify(ctx, "nope", LevelInfo, "x", false), ErrTaskNotFound)
	assert.ErrorIs(t, n.Complete(ctx, "nope", nil), ErrTaskNotFound)
}

func TestInMemory_EvictsFinishedTasks(t *testing.T) {
	ctx := context.Background()
	n := NewInMemory(time.Minute)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return clock }

	require.NoError(t, n.Start(ctx, "old-done", "TEI_IMPORT"))
	require.NoError(t, n.Complete(ctx, "old-done", nil))
	require.NoError(t, n.Start(ctx, "old-running", "TEI_IMPORT"))

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, n.Start(ctx, "new", "TEI_IMPORT"))

	_, err := n.Task(ctx, "old-done")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, err = n.Task(ctx, "old-running")
	assert.NoError(t, err)
}
