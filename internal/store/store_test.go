package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"WagerLedger/internal/store"
)

func TestMemoryGetAbsent(t *testing.T) {
	mem := store.NewMemory()

	data, found, err := mem.Get(context.Background(), "inventory/nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Errorf("found = true, want false")
	}
	if data != nil {
		t.Errorf("data = %q, want nil", data)
	}
}

func TestMemoryCASCreateAndUpdate(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	err := mem.CASUpdate(ctx, "k", func(current []byte) ([]byte, error) {
		if current != nil {
			t.Errorf("current = %q, want nil on first write", current)
		}
		return []byte(`1`), nil
	})
	if err != nil {
		t.Fatalf("CASUpdate create: %v", err)
	}

	err = mem.CASUpdate(ctx, "k", func(current []byte) ([]byte, error) {
		if string(current) != "1" {
			t.Errorf("current = %q, want %q", current, "1")
		}
		return []byte(`2`), nil
	})
	if err != nil {
		t.Fatalf("CASUpdate update: %v", err)
	}

	data, found, err := mem.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if string(data) != "2" {
		t.Errorf("data = %q, want %q", data, "2")
	}
}

func TestMemoryMutatorErrorAbortsWithoutRetry(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	domainErr := errors.New("domain abort")
	calls := 0
	err := mem.CASUpdate(ctx, "k", func([]byte) ([]byte, error) {
		calls++
		return nil, domainErr
	})
	if !errors.Is(err, domainErr) {
		t.Fatalf("err = %v, want %v", err, domainErr)
	}
	if calls != 1 {
		t.Errorf("mutator ran %d times, want 1", calls)
	}
	if _, found, _ := mem.Get(ctx, "k"); found {
		t.Errorf("document written despite abort")
	}
}

func TestMemoryNoChangeSkipsWrite(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	if err := mem.CASUpdate(ctx, "k", func([]byte) ([]byte, error) {
		return []byte(`"v1"`), nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := mem.CASUpdate(ctx, "k", func([]byte) ([]byte, error) {
		return nil, store.ErrNoChange
	})
	if err != nil {
		t.Fatalf("CASUpdate with ErrNoChange: %v", err)
	}

	data, _, _ := mem.Get(ctx, "k")
	if string(data) != `"v1"` {
		t.Errorf("data = %s, want unchanged %q", data, `"v1"`)
	}
}

func TestMemoryConcurrentIncrements(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Retry past conflict exhaustion; correctness of the final
				// sum is what matters here.
				for {
					err := mem.CASUpdate(ctx, "counter", func(current []byte) ([]byte, error) {
						n := int64(0)
						if current != nil {
							if err := json.Unmarshal(current, &n); err != nil {
								return nil, err
							}
						}
						return json.Marshal(n + 1)
					})
					if err == nil {
						break
					}
					if !errors.Is(err, store.ErrConflict) {
						t.Errorf("CASUpdate: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	var n int64
	data, _, _ := mem.Get(ctx, "counter")
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if want := int64(workers * perWorker); n != want {
		t.Errorf("counter = %d, want %d (lost updates)", n, want)
	}
}

func TestMemoryList(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	for _, path := range []string{"wagers/friendly/m2", "wagers/friendly/m1", "collateral/a", "wagers/queue/m3"} {
		if err := mem.CASUpdate(ctx, path, func([]byte) ([]byte, error) {
			return []byte(`{}`), nil
		}); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	paths, err := mem.List(ctx, "wagers/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"wagers/friendly/m1", "wagers/friendly/m2", "wagers/queue/m3"}
	if len(paths) != len(want) {
		t.Fatalf("List returned %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

type doc struct {
	N int64 `json:"n"`
}

func TestTransactTyped(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	out, err := store.Transact(ctx, mem, "d", func(d *doc, exists bool) error {
		if exists {
			t.Errorf("exists = true on first write")
		}
		d.N = 7
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if out.N != 7 {
		t.Errorf("out.N = %d, want 7", out.N)
	}

	got, found, err := store.Load[doc](ctx, mem, "d")
	if err != nil || !found {
		t.Fatalf("Load: found=%v err=%v", found, err)
	}
	if got.N != 7 {
		t.Errorf("got.N = %d, want 7", got.N)
	}
}

func TestTransactDomainErrorPropagatesUnchanged(t *testing.T) {
	mem := store.NewMemory()
	domainErr := errors.New("insufficient")

	_, err := store.Transact(context.Background(), mem, "d", func(*doc, bool) error {
		return domainErr
	})
	if !errors.Is(err, domainErr) {
		t.Errorf("err = %v, want %v", err, domainErr)
	}
}
