package query

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"trustwork/internal/chainvalue"
)

// Failure records one entity that was dropped from a listing.
type Failure struct {
	ID  uint64 `json:"id"`
	Err error  `json:"-"`
}

// Reason is the decode error kind, or "query" when the read itself failed.
func (f Failure) Reason() string {
	if k := chainvalue.KindOf(f.Err); k != 0 {
		return k.String()
	}
	return "query"
}

// Listing is one snapshot of a collection. Items are newest first.
//
// Err is set when the count could not be read; Items is then empty, which
// callers should treat as "nothing yet". When HeightKnown is false the
// projections were built at height 0.
type Listing[T any] struct {
	Items       []T
	Failures    []Failure
	Err         error
	Height      uint64
	HeightKnown bool
}

// Failed aggregates the per-item failures, or returns nil when there were
// none.
func (l Listing[T]) Failed() error {
	var errs *multierror.Error
	for _, f := range l.Failures {
		errs = multierror.Append(errs, fmt.Errorf("id %d: %w", f.ID, f.Err))
	}
	return errs.ErrorOrNil()
}

// Filter returns a copy holding only the items keep accepts. Failures and
// flags carry over unchanged.
func (l Listing[T]) Filter(keep func(T) bool) Listing[T] {
	out := l
	out.Items = make([]T, 0, len(l.Items))
	for _, item := range l.Items {
		if keep(item) {
			out.Items = append(out.Items, item)
		}
	}
	return out
}
