package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	xerrors "HostBridge/internal/errors"
)

func TestMemoryRepositoryCRUD(t *testing.T) {
	t.Parallel()

	repo, err := NewMemoryRepository(t.TempDir(), "resources.jsonl")
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}
	ctx := context.Background()

	record := &Resource{ID: "r1", Kind: "note", Title: "hello", Tags: []string{"a"}, CreatedAt: 1, UpdatedAt: 1}
	if err := repo.Create(ctx, record); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, record); xerrors.CodeOf(err) != CodeResourceConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	stored, err := repo.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	stored.Tags[0] = "mutated"
	again, _ := repo.Get(ctx, "r1")
	if again.Tags[0] != "a" {
		t.Fatalf("repository leaked internal state")
	}

	again.Title = "updated"
	again.UpdatedAt = 2
	if err := repo.Update(ctx, again); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := repo.Update(ctx, &Resource{ID: "ghost"}); xerrors.CodeOf(err) != CodeResourceNotFound {
		t.Fatalf("expected not found on update, got %v", err)
	}

	if err := repo.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "r1"); xerrors.CodeOf(err) != CodeResourceNotFound {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.Delete(ctx, "r1"); xerrors.CodeOf(err) != CodeResourceNotFound {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestMemoryRepositoryReplaysSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	repo, err := NewMemoryRepository(dir, "resources.jsonl")
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	_ = repo.Create(ctx, &Resource{ID: "keep", Kind: "note", Title: "v1", UpdatedAt: 1})
	_ = repo.Update(ctx, &Resource{ID: "keep", Kind: "note", Title: "v2", UpdatedAt: 2})
	_ = repo.Create(ctx, &Resource{ID: "drop", Kind: "note", UpdatedAt: 3})
	_ = repo.Delete(ctx, "drop")

	f, err := os.OpenFile(filepath.Join(dir, "resources.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	reopened, err := NewMemoryRepository(dir, "resources.jsonl")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	list, _ := reopened.List(ctx, Filter{})
	if len(list) != 1 || list[0].ID != "keep" || list[0].Title != "v2" {
		t.Fatalf("unexpected replayed state: %+v", list)
	}
}

func TestMemoryRepositoryCompact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	repo, _ := NewMemoryRepository(dir, "resources.jsonl")
	for i := 0; i < 10; i++ {
		_ = repo.Update(ctx, &Resource{ID: "x"})
		_ = repo.Create(ctx, &Resource{ID: "x", Kind: "note", UpdatedAt: int64(i)})
		_ = repo.Delete(ctx, "x")
	}
	_ = repo.Create(ctx, &Resource{ID: "final", Kind: "note"})
	if err := repo.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}

	content, err := os.ReadFile(repo.Path())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if lines := len(splitLines(string(content))); lines != 1 {
		t.Fatalf("expected a single line after compaction, got %d", lines)
	}
	reopened, _ := NewMemoryRepository(dir, "resources.jsonl")
	if _, err := reopened.Get(ctx, "final"); err != nil {
		t.Fatalf("compacted snapshot lost data: %v", err)
	}
}

func TestMemoryRepositoryListAndSearch(t *testing.T) {
	t.Parallel()

	repo, _ := NewMemoryRepository("", "")
	ctx := context.Background()
	fixtures := []*Resource{
		{ID: "a", Kind: "note", Title: "Go generics", Tags: []string{"go"}, UpdatedAt: 3},
		{ID: "b", Kind: "note", Title: "Rust traits", Content: "ownership", Tags: []string{"rust"}, UpdatedAt: 2},
		{ID: "c", Kind: "link", Title: "golang.org", Tags: []string{"go", "web"}, UpdatedAt: 1},
	}
	for _, r := range fixtures {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all", Filter{}, []string{"a", "b", "c"}},
		{"kind", Filter{Kind: "note"}, []string{"a", "b"}},
		{"tag", Filter{Tag: "go"}, []string{"a", "c"}},
		{"page", Filter{Limit: 1, Offset: 1}, []string{"b"}},
		{"past end", Filter{Offset: 5}, []string{}},
	}
	for _, tc := range cases {
		list, err := repo.List(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if diff := cmp.Diff(tc.want, resourceIDs(list)); diff != "" {
			t.Fatalf("%s: unexpected ids (-want +got):\n%s", tc.name, diff)
		}
	}

	found, _ := repo.Search(ctx, SearchQuery{Text: "GO"})
	if diff := cmp.Diff([]string{"a", "c"}, resourceIDs(found)); diff != "" {
		t.Fatalf("unexpected search result (-want +got):\n%s", diff)
	}
	found, _ = repo.Search(ctx, SearchQuery{Text: "owner"})
	if diff := cmp.Diff([]string{"b"}, resourceIDs(found)); diff != "" {
		t.Fatalf("content search failed (-want +got):\n%s", diff)
	}
}

func resourceIDs(resources []*Resource) []string {
	out := make([]string, len(resources))
	for i, r := range resources {
		out[i] = r.ID
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
