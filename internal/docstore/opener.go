package docstore

import (
	"context"
	"errors"
	"sync"
)

// Opener hands out one Store per named database.
type Opener interface {
	Open(ctx context.Context, database string) (Store, error)
}

// FirestoreOpener opens each database once and closes them together.
type FirestoreOpener struct {
	projectID string

	mu   sync.Mutex
	open map[string]*Firestore
}

func NewFirestoreOpener(projectID string) *FirestoreOpener {
	return &FirestoreOpener{projectID: projectID, open: map[string]*Firestore{}}
}

func (o *FirestoreOpener) Open(ctx context.Context, database string) (Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.open[database]; ok {
		return s, nil
	}
	s, err := NewFirestore(ctx, o.projectID, database)
	if err != nil {
		return nil, err
	}
	o.open[database] = s
	return s, nil
}

func (o *FirestoreOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	for name, s := range o.open {
		errs = append(errs, s.Close())
		delete(o.open, name)
	}
	return errors.Join(errs...)
}

// StaticOpener serves fixed stores by database name; the empty name is the
// fallback for any database not listed.
type StaticOpener map[string]Store

func (o StaticOpener) Open(_ context.Context, database string) (Store, error) {
	if s, ok := o[database]; ok {
		return s, nil
	}
	if s, ok := o[""]; ok {
		return s, nil
	}
	return nil, errors.New("docstore: no store for database " + database)
}
