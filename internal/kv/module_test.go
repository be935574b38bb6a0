package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

func kvNamespace(t *testing.T, backend Backend) *bridge.Namespace {
	t.Helper()
	ns := bridge.NewNamespace()
	if err := NewModule(backend).Register(ns); err != nil {
		t.Fatalf("register: %v", err)
	}
	ns.Seal()
	return ns
}

func call(args ...bridge.Arg) *bridge.CallContext {
	return bridge.NewCallContext(args...)
}

func TestKVModuleRoundTrip(t *testing.T) {
	ns := kvNamespace(t, NewMemoryBackend())
	ctx := context.Background()

	res := ns.Invoke(ctx, "kv_get", call(bridge.Text(`"greeting"`)))
	if !res.OK() {
		t.Fatalf("get failed: %+v", res.Err)
	}
	if diff := cmp.Diff(GetResult{Key: "greeting"}, res.Value); diff != "" {
		t.Fatalf("missing key result (-want +got):\n%s", diff)
	}

	res = ns.Invoke(ctx, "kv_set", call(bridge.Text(`{"key":"greeting","value":"hello"}`)))
	if !res.OK() {
		t.Fatalf("set failed: %+v", res.Err)
	}

	res = ns.Invoke(ctx, "kv_get", call(bridge.Text(`"greeting"`)))
	got := res.Value.(GetResult)
	if !got.Found || got.Value == nil || *got.Value != "hello" {
		t.Fatalf("unexpected get result %+v", got)
	}
	encoded, _ := json.Marshal(got)
	if string(encoded) != `{"key":"greeting","value":"hello","found":true}` {
		t.Fatalf("unexpected wire form %s", encoded)
	}

	res = ns.Invoke(ctx, "kv_keys", call(bridge.Text(`"greet"`)))
	if diff := cmp.Diff([]string{"greeting"}, res.Value); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	res = ns.Invoke(ctx, "kv_delete", call(bridge.Text(`"greeting"`)))
	if diff := cmp.Diff(map[string]bool{"deleted": true}, res.Value); diff != "" {
		t.Fatalf("delete mismatch (-want +got):\n%s", diff)
	}
}

func TestKVModuleErrors(t *testing.T) {
	ns := kvNamespace(t, NewMemoryBackend())
	ctx := context.Background()

	cases := []struct {
		name string
		op   string
		args []bridge.Arg
		code xerrors.Code
	}{
		{"empty key", "kv_get", []bridge.Arg{bridge.Text(`""`)}, CodeInvalidKey},
		{"blank key on set", "kv_set", []bridge.Arg{bridge.Text(`{"key":"  ","value":"x"}`)}, CodeInvalidKey},
		{"negative ttl", "kv_set", []bridge.Arg{bridge.Text(`{"key":"a","value":"x","ttl_ms":-1}`)}, CodeInvalidEntry},
		{"ttl overflows duration", "kv_set", []bridge.Arg{bridge.Text(`{"key":"a","value":"x","ttl_ms":18446744073710}`)}, CodeInvalidEntry},
		{"ttl past int64", "kv_set", []bridge.Arg{bridge.Text(`{"key":"a","value":"x","ttl_ms":9223372036854775}`)}, CodeInvalidEntry},
		{"missing key", "kv_delete", nil, xerrors.CodeArgumentMissing},
		{"non text", "kv_get", []bridge.Arg{bridge.Other(42)}, xerrors.CodeArgumentWrongShape},
		{"malformed entry", "kv_set", []bridge.Arg{bridge.Text(`{"key":`)}, xerrors.CodeArgumentMalformed},
		{"missing prefix", "kv_keys", nil, xerrors.CodeArgumentMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ns.Invoke(ctx, tc.op, call(tc.args...))
			if res.OK() || res.Code() != tc.code {
				t.Fatalf("expected %s, got %+v", tc.code, res)
			}
		})
	}
}

func TestKVModuleAcceptsMaximumTTL(t *testing.T) {
	ns := kvNamespace(t, NewMemoryBackend())
	ctx := context.Background()

	entry := fmt.Sprintf(`{"key":"long","value":"v","ttl_ms":%d}`, MaxTTLMs)
	if res := ns.Invoke(ctx, "kv_set", call(bridge.Text(entry))); !res.OK() {
		t.Fatalf("set: %+v", res)
	}
	res := ns.Invoke(ctx, "kv_get", call(bridge.Text(`"long"`)))
	got, ok := res.Value.(GetResult)
	if !ok || !got.Found {
		t.Fatalf("entry with maximum ttl should still be present, got %+v", res)
	}
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestKVModuleWrapsBackendErrors(t *testing.T) {
	ns := kvNamespace(t, failingBackend{NewMemoryBackend()})
	res := ns.Invoke(context.Background(), "kv_get", call(bridge.Text(`"a"`)))
	if res.Code() != CodeBackendFailure {
		t.Fatalf("expected backend failure, got %+v", res)
	}
}

type noSweepBackend struct{ Backend }

func TestRunSweep(t *testing.T) {
	backend, c := newClockedBackend()
	ctx := context.Background()
	_ = backend.Set(ctx, "a", "1", time.Second)
	_ = backend.Set(ctx, "b", "2", 0)
	c.Advance(time.Minute)

	out, err := NewModule(backend).RunSweep(ctx, nil)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"removed": 1}, out); diff != "" {
		t.Fatalf("sweep result (-want +got):\n%s", diff)
	}

	out, err = NewModule(noSweepBackend{backend}).RunSweep(ctx, nil)
	if err != nil {
		t.Fatalf("sweep without sweeper: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"removed": 0}, out); diff != "" {
		t.Fatalf("sweep result (-want +got):\n%s", diff)
	}
}
