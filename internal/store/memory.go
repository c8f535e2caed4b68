package store

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Memory is an in-process Store used by tests and local development. It keeps
// a version counter per path and performs the same optimistic read-mutate-CAS
// dance as the Postgres implementation, so contention behaves identically:
// the mutator runs outside the lock and a racing writer forces a retry.
type Memory struct {
	mu          sync.Mutex
	docs        map[string]memoryDoc
	maxAttempts int

	// OnConflict, if set, is called with the path on every CAS conflict.
	// Wired to a metrics counter in main.
	OnConflict func(path string)
}

type memoryDoc struct {
	data    []byte
	version int64
}

func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[string]memoryDoc),
		maxAttempts: DefaultMaxAttempts,
	}
}

func (m *Memory) Get(_ context.Context, path string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(doc.data))
	copy(out, doc.data)
	return out, true, nil
}

func (m *Memory) CASUpdate(ctx context.Context, path string, fn Mutator) error {
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		doc, exists := m.docs[path]
		m.mu.Unlock()

		var current []byte
		if exists {
			current = make([]byte, len(doc.data))
			copy(current, doc.data)
		}

		next, err := fn(current)
		if err != nil {
			if errors.Is(err, ErrNoChange) {
				return nil
			}
			return err
		}

		m.mu.Lock()
		cur, curExists := m.docs[path]
		if curExists != exists || (exists && cur.version != doc.version) {
			m.mu.Unlock()
			if m.OnConflict != nil {
				m.OnConflict(path)
			}
			continue
		}
		stored := make([]byte, len(next))
		copy(stored, next)
		m.docs[path] = memoryDoc{data: stored, version: doc.version + 1}
		m.mu.Unlock()
		return nil
	}
	return ErrConflict
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for p := range m.docs {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
