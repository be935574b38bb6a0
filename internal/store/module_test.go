package store

import (
	"context"
	"sync/atomic"
	"testing"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

type writeCountingRepo struct {
	*MemoryRepository
	writes atomic.Int32
}

func (w *writeCountingRepo) Update(ctx context.Context, r *Resource) error {
	w.writes.Add(1)
	return w.MemoryRepository.Update(ctx, r)
}

func storeNamespace(t *testing.T) (*bridge.Namespace, *writeCountingRepo) {
	t.Helper()
	mem, _ := NewMemoryRepository("", "")
	repo := &writeCountingRepo{MemoryRepository: mem}
	ns := bridge.NewNamespace()
	if err := NewModule(NewService(repo)).Register(ns); err != nil {
		t.Fatalf("register: %v", err)
	}
	ns.Seal()
	return ns, repo
}

func text(values ...string) *bridge.CallContext {
	args := make([]bridge.Arg, len(values))
	for i, v := range values {
		args[i] = bridge.Text(v)
	}
	return bridge.NewCallContext(args...)
}

func TestStoreModuleRoundTrip(t *testing.T) {
	ns, _ := storeNamespace(t)
	ctx := context.Background()

	res := ns.Invoke(ctx, "store_create_resource", text(`{"id":"r1","kind":"note","title":"Go tips","tags":["go"]}`))
	if !res.OK() {
		t.Fatalf("create failed: %+v", res.Err)
	}

	res = ns.Invoke(ctx, "store_update_resource", text(`"r1"`, `{"content":"use contexts"}`))
	if !res.OK() || res.Value.(*Resource).Content != "use contexts" {
		t.Fatalf("update failed: %+v", res)
	}

	res = ns.Invoke(ctx, "store_search_resources", text(`{"text":"contexts"}`))
	if !res.OK() || len(res.Value.([]*Resource)) != 1 {
		t.Fatalf("search failed: %+v", res)
	}

	res = ns.Invoke(ctx, "store_list_resources", text(`{"tag":"go"}`))
	if !res.OK() || len(res.Value.([]*Resource)) != 1 {
		t.Fatalf("list failed: %+v", res)
	}

	res = ns.Invoke(ctx, "store_delete_resource", text(`"r1"`))
	if !res.OK() {
		t.Fatalf("delete failed: %+v", res.Err)
	}
	res = ns.Invoke(ctx, "store_get_resource", text(`"r1"`))
	if res.Code() != CodeResourceNotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestStoreUpdateDecodesBothArgumentsBeforeWriting(t *testing.T) {
	ns, repo := storeNamespace(t)
	ctx := context.Background()
	_ = ns.Invoke(ctx, "store_create_resource", text(`{"id":"r1","kind":"note"}`))

	res := ns.Invoke(ctx, "store_update_resource", text(`"r1"`))
	if res.Code() != xerrors.CodeArgumentMissing || res.Err.Message != "patch must be provided" {
		t.Fatalf("expected missing patch, got %+v", res)
	}
	res = ns.Invoke(ctx, "store_update_resource", text(`"r1"`, `{"title":`))
	if res.Code() != xerrors.CodeArgumentMalformed {
		t.Fatalf("expected malformed patch, got %+v", res)
	}
	if repo.writes.Load() != 0 {
		t.Fatalf("no write may happen when decoding fails, got %d", repo.writes.Load())
	}
}

func TestStoreCreateRejectsEmptyKind(t *testing.T) {
	ns, _ := storeNamespace(t)
	res := ns.Invoke(context.Background(), "store_create_resource", text(`{"title":"no kind"}`))
	if res.Code() != CodeResourceInvalid {
		t.Fatalf("expected invalid resource, got %+v", res)
	}
}
