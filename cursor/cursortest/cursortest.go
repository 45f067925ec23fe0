// Package cursortest is a conformance suite for cursor.Store implementations.
package cursortest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/pushstream-go/cursor"
)

// StoreFactory creates a new, empty Store for a single subtest.
type StoreFactory func(t *testing.T) cursor.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, factory) })
	t.Run("LoadMissing", func(t *testing.T) { testLoadMissing(t, factory) })
	t.Run("SaveOverwrites", func(t *testing.T) { testSaveOverwrites(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory) })
	t.Run("KeyIsolation", func(t *testing.T) { testKeyIsolation(t, factory) })
	t.Run("ConcurrentSaves", func(t *testing.T) { testConcurrentSaves(t, factory) })
}

func newStore(t *testing.T, factory StoreFactory) cursor.Store {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustLoad(t *testing.T, s cursor.Store, key string) string {
	t.Helper()
	id, err := s.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("load %q: %v", key, err)
	}
	return id
}

func testSaveAndLoad(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	if err := s.Save(context.Background(), "feed", "42"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := mustLoad(t, s, "feed"); got != "42" {
		t.Errorf("want 42, got %q", got)
	}
}

func testLoadMissing(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	if got := mustLoad(t, s, "nope"); got != "" {
		t.Errorf("want empty cursor, got %q", got)
	}
}

func testSaveOverwrites(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		if err := s.Save(ctx, "feed", id); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if got := mustLoad(t, s, "feed"); got != "3" {
		t.Errorf("want 3, got %q", got)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	if err := s.Save(ctx, "feed", "7"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete(ctx, "feed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := mustLoad(t, s, "feed"); got != "" {
		t.Errorf("want empty cursor after delete, got %q", got)
	}
	if err := s.Delete(ctx, "feed"); err != nil {
		t.Errorf("deleting a missing key should succeed: %v", err)
	}
}

func testTTL(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ttl := 100 * time.Millisecond
	if err := s.Save(context.Background(), "short", "9", cursor.WithTTL(ttl)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := mustLoad(t, s, "short"); got != "9" {
		t.Fatalf("want 9 before expiry, got %q", got)
	}

	time.Sleep(ttl + 50*time.Millisecond)

	if got := mustLoad(t, s, "short"); got != "" {
		t.Errorf("want cursor expired, got %q", got)
	}
}

func testKeyIsolation(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()
	if err := s.Save(ctx, "a", "1"); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.Save(ctx, "b", "2"); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete a: %v", err)
	}
	if got := mustLoad(t, s, "b"); got != "2" {
		t.Errorf("want b=2, got %q", got)
	}
}

func testConcurrentSaves(t *testing.T, factory StoreFactory) {
	s := newStore(t, factory)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("feed-%d", i%4)
			if err := s.Save(ctx, key, fmt.Sprint(i)); err != nil {
				t.Errorf("save %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		if got := mustLoad(t, s, fmt.Sprintf("feed-%d", i)); got == "" {
			t.Errorf("feed-%d: want a cursor, got none", i)
		}
	}
}
