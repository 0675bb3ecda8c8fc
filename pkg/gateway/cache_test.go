package gateway

import (
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	cache := NewCache()

	if _, ok := cache.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	cache.Put("k", "v1")
	entry, ok := cache.Get("k")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if entry.Value != "v1" {
		t.Fatalf("expected v1, got %v", entry.Value)
	}

	cache.Put("k", "v2")
	entry, _ = cache.Get("k")
	if entry.Value != "v2" {
		t.Fatalf("expected replaced value v2, got %v", entry.Value)
	}
}

func TestEntryExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := Entry{Value: "v", CreatedAt: now}

	if entry.Expired(5*time.Minute, now.Add(5*time.Minute)) {
		t.Fatal("entry exactly at ttl should not be expired")
	}
	if !entry.Expired(5*time.Minute, now.Add(5*time.Minute+time.Nanosecond)) {
		t.Fatal("entry past ttl should be expired")
	}
}

func TestCacheRemoveExpired(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := NewCache()
	cache.now = func() time.Time { return current }

	cache.Put("old", 1)
	current = current.Add(10 * time.Minute)
	cache.Put("fresh", 2)

	removed := cache.RemoveExpired(5 * time.Minute)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := cache.Get("old"); ok {
		t.Fatal("expected expired entry to be gone")
	}
	if _, ok := cache.Get("fresh"); !ok {
		t.Fatal("expected fresh entry to survive")
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewCache()
	cache.Put("a", 1)
	cache.Put("b", 2)

	cache.Clear()
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache, got %d entries", cache.Len())
	}
}
