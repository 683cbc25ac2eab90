package docstore

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore implements Store on a single Firestore database.
type Firestore struct {
	client   *firestore.Client
	database string
}

func NewFirestore(ctx context.Context, projectID, database string) (*Firestore, error) {
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return nil, fmt.Errorf("firestore client for database %q: %w", database, err)
	}
	return &Firestore{client: client, database: database}, nil
}

func (f *Firestore) Database() string { return f.database }

func (f *Firestore) Commit(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := validate(writes); err != nil {
		return err
	}

	batch := f.client.Batch()
	for _, w := range writes {
		ref := f.client.Collection(w.Collection).Doc(w.DocumentID)
		switch {
		case w.Delete:
			batch.Delete(ref)
		case w.Merge:
			batch.Set(ref, w.Data, firestore.MergeAll)
		default:
			batch.Set(ref, w.Data)
		}
	}
	_, err := batch.Commit(ctx)
	return err
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (f *Firestore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if id == "" {
		return ErrEmptyID
	}
	ref := f.client.Collection(collection).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	return err
}

func (f *Firestore) Documents(ctx context.Context, collection string, filters ...Filter) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		it := f.query(collection, filters).Documents(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(Document{}, err)
				return
			}
			if !yield(Document{ID: snap.Ref.ID, Data: snap.Data()}, nil) {
				return
			}
		}
	}
}

// DocumentIDs lists ids only; Select with no paths skips field payloads.
func (f *Firestore) DocumentIDs(ctx context.Context, collection string, filters ...Filter) (map[string]struct{}, error) {
	it := f.query(collection, filters).Select().Documents(ctx)
	defer it.Stop()

	ids := map[string]struct{}{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids[snap.Ref.ID] = struct{}{}
	}
}

func (f *Firestore) query(collection string, filters []Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, "==", flt.Value)
	}
	return q
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
