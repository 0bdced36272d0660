package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"canon/internal/canonerr"
	"canon/internal/logging"
	"canon/internal/preflight"
	"canon/internal/store"
)

// Stats counts the outcome of reconciling every regular file under a
// root against the store, per spec.md §4.2.
type Stats struct {
	Scanned   int64
	New       int64
	Updated   int64
	Moved     int64
	Unchanged int64
	Missing   int64
}

// Summary renders the counts the way original_source/src/scan.rs prints
// them: "Scanned N files: a new, b updated, c moved, d unchanged, e missing".
func (s Stats) Summary() string {
	return fmt.Sprintf("Scanned %d files: %d new, %d updated, %d moved, %d unchanged, %d missing",
		s.Scanned, s.New, s.Updated, s.Moved, s.Unchanged, s.Missing)
}

func (s *Stats) add(other Stats) {
	s.Scanned += other.Scanned
	s.New += other.New
	s.Updated += other.Updated
	s.Moved += other.Moved
	s.Unchanged += other.Unchanged
	s.Missing += other.Missing
}

// ScanRoots canonicalizes and scans each path in turn, sharing one fresh
// scan generation across all of them (spec.md §4.2 "a fresh scan
// generation number"). It rejects overlapping roots before touching any
// of them.
func ScanRoots(ctx context.Context, st *store.Store, logger *slog.Logger, paths []string, role store.Role) (Stats, error) {
	var total Stats
	logger = logging.NewComponentLogger(logger, "scanner")

	canonical := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return total, canonerr.Wrap(canonerr.ErrUserInput, "scanner", "canonicalize", fmt.Sprintf("path %q", p), err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return total, canonerr.Wrap(canonerr.ErrUserInput, "scanner", "canonicalize", fmt.Sprintf("path %q", p), err)
		}
		if err := st.CheckOverlappingRoots(ctx, resolved); err != nil {
			return total, err
		}
		canonical = append(canonical, resolved)
	}

	generation, err := st.NextGeneration(ctx)
	if err != nil {
		return total, err
	}

	for _, path := range canonical {
		if check := preflight.CheckSourceRoot(path); !check.Passed {
			return total, canonerr.Wrap(canonerr.ErrUserInput, "scanner", "preflight", check.Detail, nil)
		}

		root, err := st.GetOrCreateRoot(ctx, path, role)
		if err != nil {
			return total, err
		}

		stats, err := scanRoot(ctx, st, logger, root, generation)
		if err != nil {
			return total, err
		}
		total.add(stats)
	}

	return total, nil
}

func scanRoot(ctx context.Context, st *store.Store, logger *slog.Logger, root store.Root, generation int64) (Stats, error) {
	var stats Stats
	now := time.Now().Unix()

	walkErr := filepath.WalkDir(root.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("cannot read directory entry", logging.String("path", path), logging.Error(err))
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("failed to stat entry", logging.String("path", path), logging.Error(err))
			return nil
		}

		relPath, err := filepath.Rel(root.Path, path)
		if err != nil {
			logger.Warn("failed to compute relative path", logging.String("path", path), logging.Error(err))
			return nil
		}

		device, inode, ok := statIdentity(info)
		if !ok {
			logger.Warn("unsupported filesystem, missing device/inode", logging.String("path", path))
			return nil
		}

		stats.Scanned++
		action, err := reconcile(ctx, st, root.ID, relPath, info.Size(), info.ModTime().Unix(), device, inode, generation, now)
		if err != nil {
			return err
		}
		switch action {
		case actionNew:
			stats.New++
		case actionUpdated:
			stats.Updated++
		case actionMoved:
			stats.Moved++
		case actionUnchanged:
			stats.Unchanged++
		}
		return nil
	})
	if walkErr != nil {
		return stats, canonerr.Wrap(canonerr.ErrIO, "scanner", "walk", root.Path, walkErr)
	}

	missing, err := st.MarkMissing(ctx, root.ID, generation)
	if err != nil {
		return stats, err
	}
	stats.Missing = missing

	return stats, nil
}

type action int

const (
	actionNew action = iota
	actionUpdated
	actionMoved
	actionUnchanged
)

// reconcile implements spec.md §4.2 steps 3-5: lookup priority (a) path
// match, (b) device/inode match (move), (c) new source.
func reconcile(ctx context.Context, st *store.Store, rootID int64, relPath string, size, mtime, device, inode, generation, now int64) (action, error) {
	byPath, err := st.FindSourceByPath(ctx, rootID, relPath)
	if err != nil {
		return 0, err
	}
	if byPath != nil {
		changed := size != byPath.Size || mtime != byPath.Mtime || device != byPath.Device || inode != byPath.Inode
		if changed {
			if err := st.UpdateSourceChanged(ctx, byPath.ID, size, mtime, device, inode, byPath.BasisRev+1, generation); err != nil {
				return 0, err
			}
			return actionUpdated, nil
		}
		if err := st.UpdateSourceUnchanged(ctx, byPath.ID, device, inode, generation); err != nil {
			return 0, err
		}
		return actionUnchanged, nil
	}

	byIdentity, err := st.FindSourceByDeviceInode(ctx, device, inode)
	if err != nil {
		return 0, err
	}
	if byIdentity != nil {
		basisChanged := byIdentity.RootID != rootID || size != byIdentity.Size || mtime != byIdentity.Mtime
		newBasisRev := byIdentity.BasisRev
		if basisChanged {
			newBasisRev++
		}
		if err := st.ApplyMove(ctx, byIdentity.ID, rootID, relPath, size, mtime, newBasisRev, generation); err != nil {
			return 0, err
		}
		return actionMoved, nil
	}

	if _, err := st.InsertSource(ctx, rootID, relPath, size, mtime, device, inode, generation); err != nil {
		return 0, err
	}
	return actionNew, nil
}

func statIdentity(info fs.FileInfo) (device, inode int64, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int64(stat.Dev), int64(stat.Ino), true
}
