package kv

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClockedBackend() (*MemoryBackend, *clock) {
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	backend := NewMemoryBackend()
	backend.now = c.Now
	return backend, c
}

func TestMemoryBackendTTL(t *testing.T) {
	backend, c := newClockedBackend()
	ctx := context.Background()

	if err := backend.Set(ctx, "session", "abc", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := backend.Set(ctx, "config", "v1", 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	if value, found, _ := backend.Get(ctx, "session"); !found || value != "abc" {
		t.Fatalf("expected live session, got %q %v", value, found)
	}

	c.Advance(time.Second)
	if _, found, _ := backend.Get(ctx, "session"); found {
		t.Fatalf("session must expire exactly at its deadline")
	}
	if _, found, _ := backend.Get(ctx, "config"); !found {
		t.Fatalf("entries without ttl never expire")
	}

	if backend.Len() != 2 {
		t.Fatalf("expired entry is only reclaimed by sweep, len=%d", backend.Len())
	}
	removed, err := backend.Sweep(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("sweep removed %d, err %v", removed, err)
	}
	if backend.Len() != 1 {
		t.Fatalf("unexpected len after sweep %d", backend.Len())
	}
}

func TestMemoryBackendDeleteReportsLiveness(t *testing.T) {
	backend, c := newClockedBackend()
	ctx := context.Background()

	_ = backend.Set(ctx, "a", "1", 0)
	_ = backend.Set(ctx, "b", "2", time.Millisecond)
	c.Advance(time.Millisecond)

	if deleted, _ := backend.Delete(ctx, "a"); !deleted {
		t.Fatalf("expected live key to be deleted")
	}
	if deleted, _ := backend.Delete(ctx, "b"); deleted {
		t.Fatalf("expired key should report not deleted")
	}
	if deleted, _ := backend.Delete(ctx, "missing"); deleted {
		t.Fatalf("missing key should report not deleted")
	}
	if backend.Len() != 0 {
		t.Fatalf("delete must remove expired entries as well")
	}
}

func TestMemoryBackendKeysSortedAndFiltered(t *testing.T) {
	backend, c := newClockedBackend()
	ctx := context.Background()

	for _, key := range []string{"user:2", "user:1", "team:1", "user:3"} {
		_ = backend.Set(ctx, key, "x", 0)
	}
	_ = backend.Set(ctx, "user:0", "x", time.Second)
	c.Advance(2 * time.Second)

	keys, err := backend.Keys(ctx, "user:")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if diff := cmp.Diff([]string{"user:1", "user:2", "user:3"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	all, _ := backend.Keys(ctx, "")
	if len(all) != 4 {
		t.Fatalf("expected 4 live keys, got %v", all)
	}
}

func TestValidateKey(t *testing.T) {
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'k'
	}
	cases := map[string]bool{
		"":           false,
		"   ":        false,
		"user:1":     true,
		string(long): false,
	}
	for key, ok := range cases {
		err := ValidateKey(key)
		if ok && err != nil {
			t.Fatalf("ValidateKey(%q) unexpected error %v", key, err)
		}
		if !ok && err == nil {
			t.Fatalf("ValidateKey(%q) expected error", key)
		}
	}
}
