package docstore

import (
	"context"
	"iter"
	"maps"
	"slices"
	"sync"
)

// Memory is an in-process Store. CommitHook lets tests inject failures.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	commits     [][]Write

	CommitHook func(writes []Write) error
}

func NewMemory() *Memory {
	return &Memory{collections: map[string]map[string]map[string]any{}}
}

func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(writes); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.commits = append(m.commits, slices.Clone(writes))
	if m.CommitHook != nil {
		if err := m.CommitHook(writes); err != nil {
			return err
		}
	}
	for _, w := range writes {
		m.apply(w)
	}
	return nil
}

func (m *Memory) apply(w Write) {
	coll := m.collections[w.Collection]
	if coll == nil {
		coll = map[string]map[string]any{}
		m.collections[w.Collection] = coll
	}
	switch {
	case w.Delete:
		delete(coll, w.DocumentID)
	case w.Merge:
		existing := coll[w.DocumentID]
		if existing == nil {
			existing = map[string]any{}
		}
		coll[w.DocumentID] = MergeFields(existing, w.Data)
	default:
		coll[w.DocumentID] = deepCopy(w.Data)
	}
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: deepCopy(data)}, nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	return m.Commit(ctx, []Write{{Collection: collection, DocumentID: id, Data: data, Merge: merge}})
}

func (m *Memory) Documents(ctx context.Context, collection string, filters ...Filter) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Document{}, err)
			return
		}
		m.mu.RLock()
		coll := m.collections[collection]
		ids := slices.Sorted(maps.Keys(coll))
		docs := make([]Document, 0, len(ids))
		for _, id := range ids {
			if matches(coll[id], filters) {
				docs = append(docs, Document{ID: id, Data: deepCopy(coll[id])})
			}
		}
		m.mu.RUnlock()

		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (m *Memory) DocumentIDs(ctx context.Context, collection string, filters ...Filter) (map[string]struct{}, error) {
	ids := map[string]struct{}{}
	for doc, err := range m.Documents(ctx, collection, filters...) {
		if err != nil {
			return nil, err
		}
		ids[doc.ID] = struct{}{}
	}
	return ids, nil
}

func (m *Memory) Close() error { return nil }

// Commits returns every batch passed to Commit, including failed ones.
func (m *Memory) Commits() [][]Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.commits)
}

// Len reports the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Snapshot copies a collection for comparisons across runs.
func (m *Memory) Snapshot(collection string) map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]map[string]any, len(m.collections[collection]))
	for id, data := range m.collections[collection] {
		out[id] = deepCopy(data)
	}
	return out
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if data[f.Field] != f.Value {
			return false
		}
	}
	return true
}

// MergeFields overlays src onto dst, descending into nested maps.
// dst is modified and returned.
func MergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			if current, ok := dst[k].(map[string]any); ok {
				dst[k] = MergeFields(deepCopy(current), nested)
				continue
			}
			dst[k] = deepCopy(nested)
			continue
		}
		dst[k] = v
	}
	return dst
}

func deepCopy(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = v
	}
	return out
}
