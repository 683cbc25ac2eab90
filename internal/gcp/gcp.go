// Package gcp adapts Google Cloud clients to the pipeline interfaces.
package gcp

import "iter"

const defaultPageSize = 500

// mapSeq converts every value of seq, passing errors through.
func mapSeq[T, U any](seq iter.Seq2[T, error], fn func(T) U) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		for v, err := range seq {
			if err != nil {
				var zero U
				yield(zero, err)
				return
			}
			if !yield(fn(v), nil) {
				return
			}
		}
	}
}
