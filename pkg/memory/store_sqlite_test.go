package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "elaj.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_SetGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, StoreProfile, "u1", "hello", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := store.Get(ctx, StoreProfile, "u1")
	if err != nil || !ok || got != "hello" {
		t.Fatalf("Get = (%q, %v, %v), want (hello, true, nil)", got, ok, err)
	}

	// Same key in a different namespace must not collide.
	if _, ok, _ := store.Get(ctx, StoreHistory, "u1"); ok {
		t.Error("key should not be visible across store namespaces")
	}

	if err := store.Delete(ctx, StoreProfile, "u1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, StoreProfile, "u1"); ok {
		t.Error("deleted key should read as absent")
	}
}

func TestStore_ExpiredEntryReadsAsAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, StoreImage, "h1", "valid", time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok, _ := store.Get(ctx, StoreImage, "h1"); ok {
		t.Error("expired entry should read as absent")
	}
}

func TestStore_AppendTrimsToNewest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		if err := store.Append(ctx, StoreHistory, "c1", v, 3, time.Hour); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.ReadList(ctx, StoreHistory, "c1")
	if err != nil {
		t.Fatalf("ReadList failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("list length = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i] != want {
			t.Errorf("item %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestStore_ReadListHonorsTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, StoreActivity, "u1", "ev", 10, time.Millisecond); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	got, err := store.ReadList(ctx, StoreActivity, "u1")
	if err != nil {
		t.Fatalf("ReadList failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expired list should read as empty, got %d items", len(got))
	}
}

func TestStore_Incr(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, StoreStats, "u1:page_view", 1, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Incr = (%d, %v), want (1, nil)", n, err)
	}
	n, err = store.Incr(ctx, StoreStats, "u1:page_view", 2, time.Hour)
	if err != nil || n != 3 {
		t.Fatalf("Incr = (%d, %v), want (3, nil)", n, err)
	}
}

// TestStore_IncrConcurrentReturnsDistinctValues: each increment must return
// its own post-increment value; a duplicate means another increment leaked
// into the readback.
func TestStore_IncrConcurrentReturnsDistinctValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5
	results := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				v, err := store.Incr(ctx, StoreStats, "u1:assistant_question", 1, time.Hour)
				if err != nil {
					t.Errorf("Incr failed: %v", err)
					return
				}
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for v := range results {
		if seen[v] {
			t.Fatalf("value %d returned twice", v)
		}
		seen[v] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d distinct values, want %d", len(seen), workers*perWorker)
	}
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, StoreProfile, "gone", "x", time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, StoreProfile, "kept", "y", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Append(ctx, StoreHistory, "gone", "t1", 5, time.Millisecond); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed < 2 {
		t.Errorf("Sweep removed %d rows, want at least 2", removed)
	}
	if _, ok, _ := store.Get(ctx, StoreProfile, "kept"); !ok {
		t.Error("unexpired entry should survive a sweep")
	}
}
