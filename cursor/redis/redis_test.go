package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/pushstream-go/cursor"
	"github.com/ggoodman/pushstream-go/cursor/cursortest"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   2, // Use separate DB for cursor tests
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisStore(t *testing.T) {
	probe := testClient(t)
	defer probe.Close()
	defer probe.FlushDB(context.Background())

	cursortest.RunStoreTests(t, func(t *testing.T) cursor.Store {
		s, err := New(Config{Client: testClient(t), KeyPrefix: "test:" + t.Name() + ":"})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	})
}

func TestKeyPrefix(t *testing.T) {
	client := testClient(t)
	defer client.FlushDB(context.Background())

	s, err := New(Config{Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.Save(ctx, "feed", "5"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := client.Get(ctx, "pushstream:cursor:feed").Result()
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if got != "5" {
		t.Errorf("want 5 under default prefix, got %q", got)
	}
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if _, err := Open("http://nope", ""); err == nil {
		t.Fatal("expected error for non-redis url")
	}
}
