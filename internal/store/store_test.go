package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"canon/internal/store"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "canon.db")
	s, err := store.Open(dbPath, 2*time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	root, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	if root.ID == 0 {
		t.Fatal("expected root ID to be assigned")
	}

	again, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot (repeat) failed: %v", err)
	}
	if again.ID != root.ID {
		t.Fatalf("expected idempotent root lookup, got different IDs %d vs %d", again.ID, root.ID)
	}
}

func TestGetOrCreateRootRejectsRoleChange(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateRoot(ctx, "/media/archive", store.RoleArchive); err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	if _, err := s.GetOrCreateRoot(ctx, "/media/archive", store.RoleSource); err == nil {
		t.Fatal("expected error reusing a root under a different role")
	}
}

func TestCheckOverlappingRoots(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource); err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}

	cases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"identical", "/media/incoming", false},
		{"nested child", "/media/incoming/movies", true},
		{"parent of existing", "/media", true},
		{"sibling", "/media/other", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.CheckOverlappingRoots(ctx, tc.path)
			if tc.wantErr && err == nil {
				t.Fatalf("expected overlap error for %s", tc.path)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected overlap error for %s: %v", tc.path, err)
			}
		})
	}
}

func TestParseRootSpec(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	root, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}

	t.Run("by id", func(t *testing.T) {
		id, err := s.ParseRootSpec(ctx, "id:"+strconv.FormatInt(root.ID, 10))
		if err != nil {
			t.Fatalf("ParseRootSpec failed: %v", err)
		}
		if id != root.ID {
			t.Fatalf("expected root id %d, got %d", root.ID, id)
		}
	})

	t.Run("by path", func(t *testing.T) {
		id, err := s.ParseRootSpec(ctx, "path:/media/incoming")
		if err != nil {
			t.Fatalf("ParseRootSpec failed: %v", err)
		}
		if id != root.ID {
			t.Fatalf("expected root id %d, got %d", root.ID, id)
		}
	})

	t.Run("unrecognized form", func(t *testing.T) {
		if _, err := s.ParseRootSpec(ctx, "bogus"); err == nil {
			t.Fatal("expected error for unrecognized root specifier")
		}
	})
}

func TestSourceLifecycle(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	root, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}

	id, err := s.InsertSource(ctx, root.ID, "movies/a.mkv", 1024, 1700000000, 1, 42, 1)
	if err != nil {
		t.Fatalf("InsertSource failed: %v", err)
	}

	src, err := s.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src == nil || src.BasisRev != 0 {
		t.Fatalf("expected fresh source at basis_rev 0, got %#v", src)
	}

	if err := s.UpdateSourceUnchanged(ctx, id, 1, 42, 2); err != nil {
		t.Fatalf("UpdateSourceUnchanged failed: %v", err)
	}
	src, err = s.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src.BasisRev != 0 || src.SeenRev != 2 {
		t.Fatalf("expected unchanged basis_rev and bumped seen_rev, got %#v", src)
	}

	if err := s.UpdateSourceChanged(ctx, id, 2048, 1700000500, 1, 42, 1, 3); err != nil {
		t.Fatalf("UpdateSourceChanged failed: %v", err)
	}
	src, err = s.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if src.BasisRev != 1 || src.Size != 2048 {
		t.Fatalf("expected bumped basis_rev and new size, got %#v", src)
	}

	missing, err := s.MarkMissing(ctx, root.ID, 4)
	if err != nil {
		t.Fatalf("MarkMissing failed: %v", err)
	}
	if missing != 1 {
		t.Fatalf("expected 1 missing source, got %d", missing)
	}
}

func TestFactWriteAndPromotion(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	root, err := s.GetOrCreateRoot(ctx, "/media/incoming", store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	srcID, err := s.InsertSource(ctx, root.ID, "movies/a.mkv", 1024, 1700000000, 1, 42, 1)
	if err != nil {
		t.Fatalf("InsertSource failed: %v", err)
	}
	src, err := s.GetSource(ctx, srcID)
	if err != nil || src == nil {
		t.Fatalf("GetSource failed: %v", err)
	}

	if err := store.WriteFact(ctx, s.DB(), store.Fact{
		TargetKind: store.TargetSource,
		TargetID:   srcID,
		Key:        "content.title",
		Value:      store.TextValue("Example Movie"),
		ObservedAt: 1700000100,
	}); err != nil {
		t.Fatalf("WriteFact failed: %v", err)
	}

	obj, created, err := s.GetOrCreateObject(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetOrCreateObject failed: %v", err)
	}
	if !created {
		t.Fatal("expected new object to be created")
	}

	var promoted int
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := store.LinkAndPromote(ctx, tx, *src, obj.ID)
		promoted = n
		return err
	})
	if err != nil {
		t.Fatalf("LinkAndPromote failed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 fact promoted, got %d", promoted)
	}

	src, err = s.GetSource(ctx, srcID)
	if err != nil || src.ObjectID == nil || *src.ObjectID != obj.ID {
		t.Fatalf("expected source linked to object %d, got %#v (err=%v)", obj.ID, src, err)
	}

	objectFact, err := store.GetFact(ctx, s.DB(), store.TargetObject, obj.ID, "content.title")
	if err != nil {
		t.Fatalf("GetFact failed: %v", err)
	}
	if objectFact == nil || objectFact.Value.Text != "Example Movie" {
		t.Fatalf("expected promoted fact on object, got %#v", objectFact)
	}

	sourceFact, err := store.GetFact(ctx, s.DB(), store.TargetSource, srcID, "content.title")
	if err != nil {
		t.Fatalf("GetFact failed: %v", err)
	}
	if sourceFact != nil {
		t.Fatalf("expected source fact removed after promotion, got %#v", sourceFact)
	}
}
