package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "orchestd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord() Record {
	return Record{
		ID:            uuid.New(),
		ProjectID:     uuid.New(),
		CorrelationID: uuid.New(),
		AgentType:     "venture_expert",
		InputData:     map[string]any{"description": "a bakery marketplace"},
		Status:        StatusPending,
		StartedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSQLStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rec := sampleRecord()

	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.ProjectID, got.ProjectID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "a bakery marketplace", got.InputData["description"])
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	rec := sampleRecord()
	require.NoError(t, store.Insert(ctx, rec))

	require.NoError(t, store.Transition(ctx, rec.ID, StatusPending, StatusRunning))

	t.Run("wrong from status rejected", func(t *testing.T) {
		err := store.Transition(ctx, rec.ID, StatusPending, StatusRunning)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	update := TerminalUpdate{
		Status:      StatusCompleted,
		OutputData:  map[string]any{"content": "done"},
		CompletedAt: rec.StartedAt.Add(2 * time.Second),
		DurationMS:  2000,
	}
	require.NoError(t, store.UpdateTerminal(ctx, rec.ID, update))

	got, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.DurationMS)
	assert.Equal(t, int64(2000), *got.DurationMS)
	require.NotNil(t, got.CompletedAt)

	t.Run("terminal records are frozen", func(t *testing.T) {
		err := store.UpdateTerminal(ctx, rec.ID, TerminalUpdate{
			Status: StatusFailed, CompletedAt: time.Now().UTC(),
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("non-terminal status rejected", func(t *testing.T) {
		err := store.UpdateTerminal(ctx, rec.ID, TerminalUpdate{Status: StatusRunning})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestSQLStoreListByProject(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	project := uuid.New()
	other := uuid.New()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.ProjectID = project
		rec.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Insert(ctx, rec))
	}
	foreign := sampleRecord()
	foreign.ProjectID = other
	require.NoError(t, store.Insert(ctx, foreign))

	records, err := store.ListByProject(ctx, project, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first, scoped to the requested project.
	assert.True(t, records[0].StartedAt.After(records[1].StartedAt))
	for _, rec := range records {
		assert.Equal(t, project, rec.ProjectID)
	}
}

func TestSQLStoreFailStaleRunning(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	stale := sampleRecord()
	stale.Status = StatusRunning
	stale.StartedAt = time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, store.Insert(ctx, stale))

	fresh := sampleRecord()
	fresh.Status = StatusRunning
	require.NoError(t, store.Insert(ctx, fresh))

	reaped, err := store.FailStaleRunning(ctx, time.Now().UTC().Add(-5*time.Minute), "timeout")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	got, err := store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "timeout", got.ErrorMessage)

	got, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}
