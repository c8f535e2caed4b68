package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"WagerLedger/internal/store"
	"WagerLedger/internal/testutil"
)

func setupPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)

	if err := store.NewMigrator(db, "../../migrations").Up(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewPostgres(db)
}

func TestPostgresCASRoundTrip(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	err := pg.CASUpdate(ctx, "inventory/p1", func(current []byte) ([]byte, error) {
		if current != nil {
			t.Errorf("current = %q, want nil", current)
		}
		return []byte(`{"materials":{"dust":10}}`), nil
	})
	if err != nil {
		t.Fatalf("CASUpdate create: %v", err)
	}

	err = pg.CASUpdate(ctx, "inventory/p1", func(current []byte) ([]byte, error) {
		if current == nil {
			t.Fatalf("current = nil on update")
		}
		return []byte(`{"materials":{"dust":7}}`), nil
	})
	if err != nil {
		t.Fatalf("CASUpdate update: %v", err)
	}

	data, found, err := pg.Get(ctx, "inventory/p1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	var doc struct {
		Materials map[string]int64 `json:"materials"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Materials["dust"] != 7 {
		t.Errorf("dust = %d, want 7", doc.Materials["dust"])
	}
}

func TestPostgresConcurrentIncrements(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	const workers = 4
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for {
					err := pg.CASUpdate(ctx, "counter", func(current []byte) ([]byte, error) {
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

	data, _, err := pg.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if want := int64(workers * perWorker); n != want {
		t.Errorf("counter = %d, want %d (lost updates)", n, want)
	}
}

func TestPostgresListPrefix(t *testing.T) {
	pg := setupPostgres(t)
	ctx := context.Background()

	for _, path := range []string{"wagers/friendly/m1", "wagers/queue/m2", "collateral/a"} {
		if err := pg.CASUpdate(ctx, path, func([]byte) ([]byte, error) {
			return []byte(`{}`), nil
		}); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	paths, err := pg.List(ctx, "wagers/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("List = %v, want 2 wager paths", paths)
	}
}
