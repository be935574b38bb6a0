package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	goredis "github.com/redis/go-redis/v9"

	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/kv"
)

func TestMatchPatternEscapesGlob(t *testing.T) {
	backend := NewKVBackendWithClient(nil, "hb:kv:")
	cases := map[string]string{
		"":        `hb:kv:*`,
		"user:":   `hb:kv:user:*`,
		"a*b?[c]": `hb:kv:a\*b\?\[c\]*`,
		`back\`:   `hb:kv:back\\*`,
	}
	for prefix, want := range cases {
		if got := backend.matchPattern(prefix); got != want {
			t.Fatalf("matchPattern(%q) = %q, want %q", prefix, got, want)
		}
	}
}

func TestFullKeyAppliesPrefix(t *testing.T) {
	backend := NewKVBackendWithClient(nil, "hb:")
	if got := backend.fullKey("session"); got != "hb:session" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNewKVBackendRequiresAddress(t *testing.T) {
	if _, err := NewKVBackend(context.Background(), Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestCloseDoesNotCloseBorrowedClient(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	backend := NewKVBackendWithClient(client, "")
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// 借用的客户端仍可关闭一次，说明 Close 没有提前关闭它。
	if err := client.Close(); err != nil {
		t.Fatalf("client should still be open: %v", err)
	}
}

func newMiniredisBackend(t *testing.T, prefix string) (*KVBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	backend, err := NewKVBackend(context.Background(), Config{Address: mr.Addr(), Prefix: prefix})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	t.Cleanup(func() { _ = backend.Close() })
	return backend, mr
}

func TestKVBackendRoundTripUsesPrefix(t *testing.T) {
	backend, mr := newMiniredisBackend(t, "hb:kv:")
	ctx := context.Background()

	if _, found, err := backend.Get(ctx, "greeting"); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
	if err := backend.Set(ctx, "greeting", "hello", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := mr.Get("hb:kv:greeting")
	if err != nil || raw != "hello" {
		t.Fatalf("raw key not prefixed: %q %v", raw, err)
	}
	if mr.Exists("greeting") {
		t.Fatalf("unprefixed key should not exist")
	}
	value, found, err := backend.Get(ctx, "greeting")
	if err != nil || !found || value != "hello" {
		t.Fatalf("get: %q %v %v", value, found, err)
	}

	deleted, err := backend.Delete(ctx, "greeting")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = backend.Delete(ctx, "greeting")
	if err != nil || deleted {
		t.Fatalf("second delete should report false: %v %v", deleted, err)
	}
}

func TestKVBackendPassesTTLToSet(t *testing.T) {
	backend, mr := newMiniredisBackend(t, "hb:")
	ctx := context.Background()

	if err := backend.Set(ctx, "session", "s", 1500*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := backend.Set(ctx, "forever", "f", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mr.TTL("hb:session"); got != 1500*time.Millisecond {
		t.Fatalf("unexpected ttl %s", got)
	}
	if got := mr.TTL("hb:forever"); got != 0 {
		t.Fatalf("zero ttl should not expire, got %s", got)
	}

	mr.FastForward(2 * time.Second)
	if _, found, err := backend.Get(ctx, "session"); err != nil || found {
		t.Fatalf("session should have expired: found=%v err=%v", found, err)
	}
	if _, found, _ := backend.Get(ctx, "forever"); !found {
		t.Fatalf("forever should remain")
	}
}

func TestKVBackendKeysStripsPrefixAndSorts(t *testing.T) {
	backend, mr := newMiniredisBackend(t, "hb:")
	ctx := context.Background()

	for _, key := range []string{"user:2", "user:1", "team:1", "a*b"} {
		if err := backend.Set(ctx, key, "v", 0); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := mr.Set("other:user:3", "v"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}
	for i := 0; i < 600; i++ {
		_ = mr.Set(fmt.Sprintf("hb:bulk:%03d", i), "v")
	}

	cases := []struct {
		prefix string
		want   []string
	}{
		{"user:", []string{"user:1", "user:2"}},
		{"team:", []string{"team:1"}},
		{"a*", []string{"a*b"}},
		{"missing:", []string{}},
	}
	for _, tc := range cases {
		got, err := backend.Keys(ctx, tc.prefix)
		if err != nil {
			t.Fatalf("keys %q: %v", tc.prefix, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("keys %q mismatch (-want +got):\n%s", tc.prefix, diff)
		}
	}

	all, err := backend.Keys(ctx, "")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(all) != 604 {
		t.Fatalf("expected 604 unique keys across scan batches, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] >= all[i] {
			t.Fatalf("keys not sorted or duplicated at %d: %q %q", i, all[i-1], all[i])
		}
	}
}

func TestKVBackendWrapsServerFailures(t *testing.T) {
	backend, mr := newMiniredisBackend(t, "hb:")
	mr.Close()

	if _, _, err := backend.Get(context.Background(), "k"); xerrors.CodeOf(err) != kv.CodeBackendFailure {
		t.Fatalf("expected backend failure, got %v", err)
	}
}

func TestNewKVBackendPingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewKVBackend(ctx, Config{Address: addr}); xerrors.CodeOf(err) != kv.CodeBackendFailure {
		t.Fatalf("expected backend failure, got %v", err)
	}
}
