package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	xerrors "HostBridge/internal/errors"
)

func newClockedStore(start time.Time) (*MemoryStore, *time.Time) {
	store := NewMemoryStore()
	clock := start
	store.now = func() time.Time { return clock }
	return store, &clock
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Job{ID: "a", Kind: "echo", MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Job{ID: "a", Kind: "echo"}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	job, err := store.Claim(ctx, "a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job.Status != StatusRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claimed job %+v", job)
	}
	if _, err := store.Claim(ctx, "a"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("running job must not be claimed twice, got %v", err)
	}

	if err := store.MarkFailed(ctx, "a", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	job, _ = store.Get(ctx, "a")
	if job.Status != StatusPending || job.ErrorCode != string(CodeJobProcessing) {
		t.Fatalf("non-terminal failure should return to pending: %+v", job)
	}

	if _, err := store.Claim(ctx, "a"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "a", CodeJobProcessing, "boom", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "a"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}

	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreSucceededIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Create(ctx, &Job{ID: "a", Kind: "echo", MaxRetries: 3})
	if _, err := store.Claim(ctx, "a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "a", json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	job, err := store.Claim(ctx, "a")
	if !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if string(job.Result) != `{"ok":true}` || !job.Terminal() {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := store.Release(ctx, "a"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("only running jobs can be released, got %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	payload := json.RawMessage(`{"a":1}`)
	_ = store.Create(ctx, &Job{ID: "a", Kind: "echo", Payload: payload, MaxRetries: 1})
	payload[2] = 'b'

	job, _ := store.Get(ctx, "a")
	job.Payload[2] = 'c'
	again, _ := store.Get(ctx, "a")
	if string(again.Payload) != `{"a":1}` {
		t.Fatalf("stored payload was mutated: %s", again.Payload)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	store, clock := newClockedStore(base)

	for i, tc := range []struct {
		id   string
		kind string
	}{{"j1", "ai.generate"}, {"j2", "kv.sweep"}, {"j3", "ai.generate"}} {
		*clock = base.Add(time.Duration(i) * time.Second)
		if err := store.Create(ctx, &Job{ID: tc.id, Kind: tc.kind, MaxRetries: 3}); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}
	*clock = base.Add(10 * time.Second)
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "j1" || all[1].ID != "j3" {
		t.Fatalf("unexpected default order: %v", ids(all))
	}

	asc, _ := store.List(ctx, ListOptions{Order: SortByUpdatedAsc})
	if asc[0].ID != "j2" {
		t.Fatalf("unexpected ascending order: %v", ids(asc))
	}

	pending, _ := store.List(ctx, ListOptions{Statuses: []Status{StatusPending}})
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending jobs, got %v", ids(pending))
	}

	kinds, _ := store.List(ctx, ListOptions{Kinds: []string{"ai.generate", " "}})
	if len(kinds) != 2 {
		t.Fatalf("expected 2 ai jobs, got %v", ids(kinds))
	}

	window, _ := store.List(ctx, ListOptions{
		UpdatedGTE: base.Add(time.Second).UnixMilli(),
		UpdatedLTE: base.Add(5 * time.Second).UnixMilli(),
	})
	if len(window) != 2 {
		t.Fatalf("expected 2 jobs in window, got %v", ids(window))
	}

	paged, _ := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].ID != "j3" {
		t.Fatalf("unexpected page: %v", ids(paged))
	}
	beyond, _ := store.List(ctx, ListOptions{Offset: 10})
	if len(beyond) != 0 {
		t.Fatalf("expected empty page, got %v", ids(beyond))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	store, clock := newClockedStore(base)

	_ = store.Create(ctx, &Job{ID: "a", Kind: "k", MaxRetries: 1})
	*clock = base.Add(time.Second)
	_ = store.Create(ctx, &Job{ID: "b", Kind: "k", MaxRetries: 1})
	*clock = base.Add(2 * time.Second)
	_, _ = store.Claim(ctx, "b")
	_ = store.MarkFailed(ctx, "b", xerrors.CodeTimeout, "slow", true)

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 2, Pending: 1, Failed: 1, OldestUpdatedAt: base.UnixMilli(), NewestUpdatedAt: base.Add(2 * time.Second).UnixMilli()}
	if stats != want {
		t.Fatalf("unexpected stats %+v, want %+v", stats, want)
	}

	filtered, _ := store.Stats(ctx, ListOptions{Statuses: []Status{StatusFailed}})
	if filtered.Total != 1 || filtered.Failed != 1 {
		t.Fatalf("unexpected filtered stats %+v", filtered)
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.ID
	}
	return out
}
