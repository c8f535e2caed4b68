package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Store is the transactional document store the wager protocol runs on.
// The only atomicity primitive is a per-path compare-and-swap: CASUpdate
// reads the current document, applies the mutator, and attempts a
// version-guarded write, retrying the whole pass on conflict. There is no
// cross-path atomicity; every multi-path operation above this layer is a
// manual saga with explicit compensation.
type Store interface {
	// Get returns the raw document at path, or found=false if absent.
	Get(ctx context.Context, path string) (data []byte, found bool, err error)

	// CASUpdate runs fn against the current document (nil if absent) and
	// writes the returned bytes back if the document is unchanged since the
	// read. On conflict the read-mutate-write pass is retried up to a bound.
	// Any error returned by fn aborts the update without retry and is
	// propagated unchanged, so domain aborts ride on it.
	CASUpdate(ctx context.Context, path string, fn Mutator) error

	// List returns all paths with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Mutator computes the next document from the current one.
// current is nil when the document does not exist yet.
type Mutator func(current []byte) (next []byte, err error)

var (
	// ErrConflict is returned when CAS retries are exhausted.
	ErrConflict = errors.New("store: cas retries exhausted")

	// ErrNoChange can be returned by a Mutator to skip the write while
	// reporting success. The document keeps its current value and version.
	ErrNoChange = errors.New("store: no change")
)

// DefaultMaxAttempts bounds the CAS retry loop of both implementations.
const DefaultMaxAttempts = 16

// Transact decodes the JSON document at path into T (zero value if absent),
// applies fn in place, and writes the result back through CASUpdate. The
// mutator may run several times under contention; fn must be pure apart from
// mutating doc. Returns the document as written.
func Transact[T any](ctx context.Context, s Store, path string, fn func(doc *T, exists bool) error) (T, error) {
	var out T
	err := s.CASUpdate(ctx, path, func(current []byte) ([]byte, error) {
		var doc T
		exists := current != nil
		if exists {
			if err := json.Unmarshal(current, &doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		if err := fn(&doc, exists); err != nil {
			return nil, err
		}
		next, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		out = doc
		return next, nil
	})
	return out, err
}

// Load decodes the JSON document at path into T. Returns found=false and the
// zero value when the document is absent.
func Load[T any](ctx context.Context, s Store, path string) (T, bool, error) {
	var doc T
	data, found, err := s.Get(ctx, path)
	if err != nil || !found {
		return doc, false, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, true, nil
}
