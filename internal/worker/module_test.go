package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

func moduleNamespace(t *testing.T) (*bridge.Namespace, *fixture) {
	t.Helper()
	f := newFixture(t)
	_ = f.runners.Register("echo", echoRunner)
	ns := bridge.NewNamespace()
	if err := NewModule(f.service).Register(ns); err != nil {
		t.Fatalf("register: %v", err)
	}
	ns.Seal()
	return ns, f
}

func call(args ...string) *bridge.CallContext {
	out := make([]bridge.Arg, len(args))
	for i, a := range args {
		out[i] = bridge.Text(a)
	}
	return bridge.NewCallContext(out...)
}

func TestModuleSubmitGetAndWait(t *testing.T) {
	ns, f := moduleNamespace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.processor.Start(ctx) }()

	res := ns.Invoke(context.Background(), "worker_submit", call(`{"id":"m-1","kind":"echo","payload":{"x":1}}`))
	if !res.OK() {
		t.Fatalf("submit failed: %+v", res.Err)
	}
	if job := res.Value.(*Job); job.ID != "m-1" || job.Kind != "echo" {
		t.Fatalf("unexpected job %+v", job)
	}

	res = ns.Invoke(context.Background(), "worker_wait", call(`{"id":"m-1","timeout_ms":2000}`))
	if !res.OK() {
		t.Fatalf("wait failed: %+v", res.Err)
	}
	job := res.Value.(*Job)
	if job.Status != StatusSucceeded || string(job.Result) != `{"x":1}` {
		t.Fatalf("unexpected finished job %+v", job)
	}

	res = ns.Invoke(context.Background(), "worker_get", call(`"m-1"`))
	if !res.OK() || res.Value.(*Job).Status != StatusSucceeded {
		t.Fatalf("unexpected get result %+v", res)
	}
}

func TestModuleSubmitRejectsUnknownKind(t *testing.T) {
	ns, f := moduleNamespace(t)
	res := ns.Invoke(context.Background(), "worker_submit", call(`{"kind":"missing"}`))
	if res.Code() != CodeJobUnknownKind {
		t.Fatalf("expected unknown kind, got %+v", res)
	}
	if stats, _ := f.store.Stats(context.Background(), ListOptions{}); stats.Total != 0 {
		t.Fatalf("store should be untouched, got %+v", stats)
	}
}

func TestModuleArgumentErrors(t *testing.T) {
	ns, _ := moduleNamespace(t)
	cases := []struct {
		op   string
		call *bridge.CallContext
		code xerrors.Code
	}{
		{"worker_submit", bridge.NewCallContext(), xerrors.CodeArgumentMissing},
		{"worker_get", call(`42`), xerrors.CodeArgumentMalformed},
		{"worker_list", bridge.NewCallContext(bridge.Other(1)), xerrors.CodeArgumentWrongShape},
		{"worker_list", call(`{"order":"sideways"}`), CodeJobValidation},
		{"worker_stats", call(`{"statuses":["bogus"]}`), CodeJobValidation},
		{"worker_get", call(`"nope"`), CodeJobNotFound},
	}
	for _, tc := range cases {
		res := ns.Invoke(context.Background(), tc.op, tc.call)
		if res.Code() != tc.code {
			t.Fatalf("%s: expected %s, got %+v", tc.op, tc.code, res)
		}
	}
}

func TestModuleListStatsAndKinds(t *testing.T) {
	ns, f := moduleNamespace(t)
	for _, id := range []string{"a", "b"} {
		if _, err := f.service.Submit(context.Background(), SubmitRequest{ID: id, Kind: "echo"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	res := ns.Invoke(context.Background(), "worker_list", call(`{"statuses":["pending"],"limit":1}`))
	if jobs := res.Value.([]*Job); !res.OK() || len(jobs) != 1 {
		t.Fatalf("unexpected list %+v", res)
	}
	res = ns.Invoke(context.Background(), "worker_list", call(`{"kinds":["other"]}`))
	if jobs := res.Value.([]*Job); !res.OK() || len(jobs) != 0 {
		t.Fatalf("expected empty list, got %+v", res)
	}

	res = ns.Invoke(context.Background(), "worker_stats", call(`{}`))
	if stats := res.Value.(Stats); !res.OK() || stats.Pending != 2 {
		t.Fatalf("unexpected stats %+v", res)
	}

	res = ns.Invoke(context.Background(), "worker_kinds", call(`{}`))
	kinds, _ := res.Value.([]string)
	if !res.OK() || len(kinds) != 1 || kinds[0] != "echo" {
		t.Fatalf("unexpected kinds %+v", res)
	}
}

func TestModuleWaitTimesOut(t *testing.T) {
	ns, f := moduleNamespace(t)
	_, _ = f.service.Submit(context.Background(), SubmitRequest{ID: "idle", Kind: "echo"})

	start := time.Now()
	res := ns.Invoke(context.Background(), "worker_wait", call(`{"id":"idle","timeout_ms":30}`))
	if res.Code() != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wait ignored its timeout")
	}
}

func TestModuleResultIsSerializable(t *testing.T) {
	ns, _ := moduleNamespace(t)
	res := ns.Invoke(context.Background(), "worker_submit", call(`{"id":"s","kind":"echo"}`))
	raw, err := json.Marshal(res.Value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded["status"] != "pending" {
		t.Fatalf("unexpected encoding %s (%v)", raw, err)
	}
}

func TestWaitTimeoutClampsBeforeConverting(t *testing.T) {
	cases := []struct {
		ms   int64
		want time.Duration
	}{
		{0, defaultWaitTimeout},
		{-5, defaultWaitTimeout},
		{30, 30 * time.Millisecond},
		{maxWaitTimeout.Milliseconds(), maxWaitTimeout},
		{18446744073710, maxWaitTimeout},
		{9223372036854775807, maxWaitTimeout},
	}
	for _, tc := range cases {
		if got := waitTimeout(tc.ms); got != tc.want {
			t.Fatalf("waitTimeout(%d) = %s, want %s", tc.ms, got, tc.want)
		}
	}
}
