package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New(0)
	c.Set("k", "v", 0)

	v, ok := c.Get("k")
	if !ok || v.(string) != "v" {
		t.Fatalf("expected v, got %v ok=%v", v, ok)
	}
}

func TestNoExpiryEntriesPersist(t *testing.T) {
	c := New(0)
	c.Set("index:1", 42, 0)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("index:1"); !ok {
		t.Fatal("no-expiry entry was dropped")
	}
}

func TestExpiredEntryIsGone(t *testing.T) {
	c := New(0)
	c.Set("k", "v", 1*time.Second)
	// force expiry by rewinding the stored expiration
	c.mu.Lock()
	c.items["k"].item.Exp = time.Now().Add(-time.Minute).Unix()
	c.mu.Unlock()

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to be gone")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Get("a") // a becomes MRU
	c.Set("c", 3, 0)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected LRU entry b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to survive")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
}

func TestDelete(t *testing.T) {
	c := New(0)
	c.Set("k", "v", 0)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected deleted key to be gone")
	}
}

func TestKeyFromStringsDistinguishesParts(t *testing.T) {
	if KeyFromStrings("ab", "c") == KeyFromStrings("a", "bc") {
		t.Fatal("expected distinct keys for distinct part splits")
	}
}
