package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMergeKeepsUntouchedFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.Set(ctx, "events", "e1", map[string]any{
		"title":   "outage",
		"ignore":  true,
		"comment": "tracked in INC-1",
		"meta":    map[string]any{"a": 1},
	}, false))

	require.NoError(t, store.Commit(ctx, []Write{{
		Collection: "events",
		DocumentID: "e1",
		Data:       map[string]any{"title": "outage update", "meta": map[string]any{"b": 2}},
		Merge:      true,
	}}))

	doc, err := store.Get(ctx, "events", "e1")
	require.NoError(t, err)
	assert.Equal(t, "outage update", doc.Data["title"])
	assert.Equal(t, true, doc.Data["ignore"])
	assert.Equal(t, "tracked in INC-1", doc.Data["comment"])
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, doc.Data["meta"])
}

func TestMemoryCommitRejectsOversizedBatch(t *testing.T) {
	store := NewMemory()
	writes := make([]Write, MaxWritesPerCommit+1)
	for i := range writes {
		writes[i] = Write{Collection: "c", DocumentID: "x", Data: map[string]any{}}
	}
	err := store.Commit(context.Background(), writes)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestMemoryCommitHookLeavesStoreUntouched(t *testing.T) {
	store := NewMemory()
	store.CommitHook = func([]Write) error { return errors.New("unavailable") }

	err := store.Commit(context.Background(), []Write{{Collection: "c", DocumentID: "a", Data: map[string]any{"v": 1}}})
	require.Error(t, err)
	assert.Zero(t, store.Len("c"))
	assert.Len(t, store.Commits(), 1)
}

func TestMemoryDocumentIDsWithFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Commit(ctx, []Write{
		{Collection: "c", DocumentID: "a", Data: map[string]any{"region": "asia-south1"}},
		{Collection: "c", DocumentID: "b", Data: map[string]any{"region": "global"}},
		{Collection: "c", DocumentID: "c", Data: map[string]any{"region": "asia-south1"}},
		{Collection: "c", DocumentID: "b", Delete: true},
	}))

	ids, err := store.DocumentIDs(ctx, "c", Filter{Field: "region", Value: "asia-south1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "c": {}}, ids)

	_, err = store.Get(ctx, "c", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}
