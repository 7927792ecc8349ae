package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"eino_counsel/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := OpenMemoryStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore_MissingUser(t *testing.T) {
	store := newTestStore(t)

	mem, err := store.GetUserMemory(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, mem)
}

func TestMemoryStore_UpdateCreatesRecordAndAudit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.UpdateUserMemory(ctx, "u1", pkg.MemoryDelta{
		RelationshipContext: map[string]any{"status": "married"},
		RecurringThemes:     map[string]any{"chores": "frequent"},
		ProgressNote:        "Discussed splitting chores",
	})
	require.NoError(t, err)

	mem, err := store.GetUserMemory(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "married", mem.RelationshipContext["status"])
	assert.Equal(t, "frequent", mem.RecurringThemes["chores"])
	assert.Empty(t, mem.EmotionalPatterns)
	assert.Equal(t, []string{"Discussed splitting chores"}, mem.ProgressNotes)

	audit, err := store.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, pkg.AuditUpdate, audit[0].Action)
	assert.Equal(t,
		[]any{"relationship_context", "recurring_themes", "progress_notes"},
		audit[0].Details["updated_fields"],
	)
}

func TestMemoryStore_ProgressNotesCapped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 1; i <= pkg.MaxProgressNotes+3; i++ {
		require.NoError(t, store.UpdateUserMemory(ctx, "u1", pkg.MemoryDelta{
			ProgressNote: fmt.Sprintf("note %d", i),
		}))
	}

	mem, err := store.GetUserMemory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mem.ProgressNotes, pkg.MaxProgressNotes)
	assert.Equal(t, "note 4", mem.ProgressNotes[0])
	assert.Equal(t, fmt.Sprintf("note %d", pkg.MaxProgressNotes+3), mem.ProgressNotes[len(mem.ProgressNotes)-1])
}

func TestMemoryStore_EmptyDeltaIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpdateUserMemory(ctx, "u1", pkg.MemoryDelta{}))

	mem, err := store.GetUserMemory(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, mem)

	audit, err := store.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestMemoryStore_FailedUpdateLeavesNoAudit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.UpdateUserMemory(ctx, "u1", pkg.MemoryDelta{
		RelationshipContext: map[string]any{"bad": make(chan int)},
		ProgressNote:        "should not land",
	})
	require.Error(t, err)

	mem, err := store.GetUserMemory(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, mem, "record creation rolled back with the failed update")

	audit, err := store.ListAudit(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestMemoryStore_LogCrisisEvent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.LogCrisisEvent(ctx, "u2", "Crisis keyword detected"))

	audit, err := store.ListAudit(ctx, "u2", 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, pkg.AuditCrisisAlert, audit[0].Action)
	assert.Equal(t, "Crisis keyword detected", audit[0].Details["note"])

	mem, err := store.GetUserMemory(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Empty(t, mem.ProgressNotes)
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.UpdateUserMemory(ctx, "u3", pkg.MemoryDelta{
				ProgressNote: fmt.Sprintf("note %d", i),
			}))
		}(i)
	}
	wg.Wait()

	mem, err := store.GetUserMemory(ctx, "u3")
	require.NoError(t, err)
	assert.Len(t, mem.ProgressNotes, pkg.MaxProgressNotes)

	audit, err := store.ListAudit(ctx, "u3", 100)
	require.NoError(t, err)
	assert.Len(t, audit, 20)
}
