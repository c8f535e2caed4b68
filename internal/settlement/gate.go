package settlement

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"

	"WagerLedger/internal/observability"
	"WagerLedger/internal/store"
	"WagerLedger/internal/wager"
)

// Gate is the once-only settlement barrier: two-tier deduplication with an
// in-memory LRU in front of the durable flag at settlementLocks/{matchId}.
// The durable flag is the source of truth; the LRU only short-circuits
// repeat deliveries without a store round trip.
type Gate struct {
	store   store.Store
	lru     *settledLRU
	metrics *observability.Metrics
}

func NewGate(st store.Store, capacity int, metrics *observability.Metrics) *Gate {
	return &Gate{
		store:   st,
		lru:     newSettledLRU(capacity),
		metrics: metrics,
	}
}

// MarkDone flips the settlement flag for matchID. Returns first=true for
// exactly one caller across all processes and all retries; everyone else
// gets false. The flag is only flipped here, never read-then-written
// elsewhere, so the CAS makes the transition linearizable.
func (g *Gate) MarkDone(ctx context.Context, matchID string) (bool, error) {
	key := wager.SettlementLockPath(matchID)

	// Tier 1: LRU (hot path, repeat deliveries to this process).
	if g.lru.Contains(key) {
		g.metrics.SettlementDuplicates.Inc()
		return false, nil
	}

	// Tier 2: durable flag, absent-or-false to true in one CAS.
	first := false
	err := g.store.CASUpdate(ctx, key, func(current []byte) ([]byte, error) {
		// The mutator reruns after a lost write race; only the pass whose
		// write commits may keep the claim.
		first = false
		if current != nil {
			var done bool
			if jerr := json.Unmarshal(current, &done); jerr == nil && done {
				return nil, store.ErrNoChange
			}
		}
		first = true
		return json.Marshal(true)
	})
	if err != nil {
		return false, err
	}

	if evicted := g.lru.Add(key); evicted {
		g.metrics.SettleLRUEvictions.Inc()
	}
	g.metrics.SettleLRUSize.Set(float64(g.lru.Size()))
	if !first {
		g.metrics.SettlementDuplicates.Inc()
	}
	return first, nil
}

// settledLRU caches settled lock keys. Thread-safe; settlement handlers run
// concurrently off the results stream.
type settledLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newSettledLRU(capacity int) *settledLRU {
	return &settledLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front).
func (lru *settledLRU) Contains(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
	}
	return exists
}

// Add inserts a key (or promotes if exists) and reports whether an older
// entry was evicted to make room.
func (lru *settledLRU) Add(key string) bool {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return false
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		back := lru.lruList.Back()
		if back != nil {
			lru.lruList.Remove(back)
			delete(lru.cache, back.Value.(*lruEntry).key)
			return true
		}
	}
	return false
}

func (lru *settledLRU) Size() int {
	lru.mu.Lock()
	defer lru.mu.Unlock()
	return lru.lruList.Len()
}
