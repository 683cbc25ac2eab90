package docstore

import (
	"context"
	"errors"
	"iter"
)

// MaxWritesPerCommit is the per-call operation ceiling of the backing store.
const MaxWritesPerCommit = 500

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrBatchTooLarge = errors.New("docstore: batch exceeds write limit")
	ErrEmptyID       = errors.New("docstore: empty document id")
)

// Write is one operation in a batch commit.
type Write struct {
	Collection string
	DocumentID string
	Data       map[string]any
	// Merge keeps fields that are absent from Data.
	Merge  bool
	Delete bool
}

type Document struct {
	ID   string
	Data map[string]any
}

// Filter is an equality predicate on a top level field.
type Filter struct {
	Field string
	Value any
}

// Store is the document store boundary used by the pipeline.
type Store interface {
	// Commit applies all writes as one batch.
	Commit(ctx context.Context, writes []Write) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	Documents(ctx context.Context, collection string, filters ...Filter) iter.Seq2[Document, error]
	DocumentIDs(ctx context.Context, collection string, filters ...Filter) (map[string]struct{}, error)
	Close() error
}

func validate(writes []Write) error {
	if len(writes) > MaxWritesPerCommit {
		return ErrBatchTooLarge
	}
	for _, w := range writes {
		if w.DocumentID == "" || w.Collection == "" {
			return ErrEmptyID
		}
	}
	return nil
}
