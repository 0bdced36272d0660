package worklist_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"canon/internal/filter"
	"canon/internal/store"
	"canon/internal/worklist"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "canon.db"), 2*time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var nextInode int64 = 1

func insertSource(t *testing.T, s *store.Store, root store.Root, relPath string, size, mtime int64) store.Source {
	t.Helper()
	ctx := context.Background()
	inode := nextInode
	nextInode++
	id, err := s.InsertSource(ctx, root.ID, relPath, size, mtime, 1, inode, 1)
	if err != nil {
		t.Fatalf("InsertSource failed: %v", err)
	}
	src, err := s.GetSource(ctx, id)
	if err != nil || src == nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	return *src
}

func TestProduceEmitsMatchingSources(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	root, err := s.GetOrCreateRoot(ctx, "/media/movies", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	insertSource(t, s, root, "a.mkv", 100, 1000)
	insertSource(t, s, root, "b.mkv", 200, 2000)

	node, err := filter.Parse("source.size > 150")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var buf bytes.Buffer
	count, err := worklist.Produce(ctx, s, &buf, node, worklist.Options{})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	var rec worklist.Record
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if rec.Path != filepath.Join("/media/movies", "b.mkv") {
		t.Fatalf("unexpected path %q", rec.Path)
	}
	if rec.Size != 200 || rec.BasisRev != 0 {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestProduceExcludesArchiveRootsByDefault(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	archive, err := s.GetOrCreateRoot(ctx, "/archive", store.RoleArchive)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	insertSource(t, s, archive, "x.mkv", 100, 1000)

	var buf bytes.Buffer
	count, err := worklist.Produce(ctx, s, &buf, nil, worklist.Options{})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected archive root excluded by default, got %d", count)
	}

	buf.Reset()
	count, err = worklist.Produce(ctx, s, &buf, nil, worklist.Options{IncludeArchived: true})
	if err != nil {
		t.Fatalf("Produce with IncludeArchived failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected archive root included, got %d", count)
	}
}

func TestProduceExcludesPolicyExcludedByDefault(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	root, err := s.GetOrCreateRoot(ctx, "/media", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	src := insertSource(t, s, root, "excluded.mkv", 100, 1000)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return store.WriteFact(ctx, tx, store.Fact{
			TargetKind: store.TargetSource,
			TargetID:   src.ID,
			Key:        "policy.exclude",
			Value:      store.FactValue{Kind: store.ValueText, Text: "true"},
		})
	})
	if err != nil {
		t.Fatalf("WriteFact failed: %v", err)
	}

	var buf bytes.Buffer
	count, err := worklist.Produce(ctx, s, &buf, nil, worklist.Options{})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected excluded source omitted, got %d", count)
	}

	buf.Reset()
	count, err = worklist.Produce(ctx, s, &buf, nil, worklist.Options{IncludeExcluded: true})
	if err != nil {
		t.Fatalf("Produce with IncludeExcluded failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected excluded source included, got %d", count)
	}
}

func TestProduceSubpathScope(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	root, err := s.GetOrCreateRoot(ctx, "/media", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	insertSource(t, s, root, "season1/a.mkv", 100, 1000)
	insertSource(t, s, root, "season2/b.mkv", 200, 2000)

	var buf bytes.Buffer
	count, err := worklist.Produce(ctx, s, &buf, nil, worklist.Options{Subpath: "season1"})
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record scoped to season1, got %d", count)
	}
}
