package pipeline

import (
	"context"
	"iter"
	"sync/atomic"

	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/iterator"
)

// Fetcher streams the records of one scope. After yielding a non-nil error the
// sequence ends; records yielded before it are still valid.
type Fetcher interface {
	Fetch(ctx context.Context, scope Scope) iter.Seq2[RawRecord, error]
}

type FetcherFunc func(ctx context.Context, scope Scope) iter.Seq2[RawRecord, error]

func (f FetcherFunc) Fetch(ctx context.Context, scope Scope) iter.Seq2[RawRecord, error] {
	return f(ctx, scope)
}

// FilteringFetcher drops records at the fetch stage and counts them.
type FilteringFetcher struct {
	inner   Fetcher
	keep    func(RawRecord) bool
	dropped atomic.Int64
}

func FilterFetcher(inner Fetcher, keep func(RawRecord) bool) *FilteringFetcher {
	return &FilteringFetcher{inner: inner, keep: keep}
}

func (f *FilteringFetcher) Fetch(ctx context.Context, scope Scope) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		for rec, err := range f.inner.Fetch(ctx, scope) {
			if err == nil && f.keep != nil && !f.keep(rec) {
				f.dropped.Add(1)
				continue
			}
			if !yield(rec, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

func (f *FilteringFetcher) Dropped() int64 { return f.dropped.Load() }

// PageFunc fetches the page that starts at token.
type PageFunc[T any] func(ctx context.Context, token string) (items []T, next string, err error)

// Paginate walks pages lazily. Each page is retried on its own under policy, so a
// failure resumes from that page rather than from the start of the listing.
func Paginate[T any](ctx context.Context, op string, policy retry.Policy, fetch PageFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		token := ""
		for {
			var (
				items []T
				next  string
			)
			attempts, err := policy.Do(ctx, func(ctx context.Context) error {
				var err error
				items, next, err = fetch(ctx, token)
				return err
			})
			if err != nil {
				yield(zero, RemoteError(op, attempts, err))
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			token = next
		}
	}
}

// IteratorPages adapts a generated client iterator to PageFunc. newIter must
// return a fresh iterator for the same request on every call.
func IteratorPages[T any](pageSize int, newIter func(ctx context.Context) iterator.Pageable) PageFunc[T] {
	if pageSize <= 0 {
		pageSize = 500
	}
	return func(ctx context.Context, token string) ([]T, string, error) {
		var items []T
		next, err := iterator.NewPager(newIter(ctx), pageSize, token).NextPage(&items)
		if err != nil {
			return nil, "", err
		}
		return items, next, nil
	}
}

// Records maps a typed sequence into RawRecords, stopping at the first error.
func Records[T any](seq iter.Seq2[T, error], scope Scope, convert func(T) (RawRecord, bool)) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		for item, err := range seq {
			if err != nil {
				yield(RawRecord{}, err)
				return
			}
			rec, ok := convert(item)
			if !ok {
				continue
			}
			if rec.ScopeID == "" {
				rec.ScopeID = scope.ID
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}
