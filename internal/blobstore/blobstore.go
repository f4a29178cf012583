// Package blobstore implements a content-addressed object store for
// artifact-tree snapshots, keyed by the same hash C1 (internal/hashtree)
// computes for that tree. The Version Graph (C3) and Deployment Ledger
// (C4) only persist hashes, never bytes (spec.md §3's data model), so
// when the Sync Coordinator (C8) needs the actual contents of a
// three-way merge's "base" - the tree as it stood at the recorded
// baseline hash - there is nowhere else to recover it from. This store
// is that recovery path: every tree the coordinator writes is also
// archived here under its own content hash, exactly as the PURPOSE
// section's "content-addressed store" describes. It reuses C9's
// tar+zstd archive discipline, scoped to a single artifact subtree
// instead of the whole collection.
package blobstore

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"skillmeat/internal/diffengine"
	"skillmeat/internal/errs"
	"skillmeat/internal/logging"
)

const objectExt = ".tar.zst"

// Store is a handle onto the object directory nested inside one
// collection's dot-directory.
type Store struct {
	root string
}

// New returns a Store rooted at "<collectionRoot>/.skillmeat/objects".
func New(collectionRoot string) *Store {
	return &Store{root: filepath.Join(collectionRoot, ".skillmeat", "objects")}
}

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.root, hash+objectExt)
}

// Has reports whether a tree is already archived under hash.
func (s *Store) Has(hash string) bool {
	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// Put archives tree under hash. A no-op (besides an existence check) if
// the object is already present, since content-addressed objects are
// immutable once written - re-deriving the same hash always yields the
// same bytes.
func (s *Store) Put(hash string, tree diffengine.FileSet) error {
	if hash == "" {
		return errs.New(errs.ConstraintViolation, "cannot store a blob under an empty hash", nil)
	}
	if s.Has(hash) {
		return nil
	}
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return errs.New(errs.IOError, "create blob store directory", err)
	}

	tmp, err := os.CreateTemp(s.root, ".object-*.tar.zst.tmp")
	if err != nil {
		return errs.New(errs.IOError, "create temp blob", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return errs.New(errs.IOError, "create zstd writer", err)
	}
	tw := tar.NewWriter(zw)

	for _, path := range sortedKeys(tree) {
		data := tree[path]
		hdr := &tar.Header{
			Name: filepath.ToSlash(path),
			Mode: 0644,
			Size: int64(len(data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return errs.New(errs.IOError, fmt.Sprintf("write blob header for %s", path), err)
		}
		if _, err := tw.Write(data); err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return errs.New(errs.IOError, fmt.Sprintf("write blob body for %s", path), err)
		}
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		tmp.Close()
		return errs.New(errs.IOError, "close tar writer", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return errs.New(errs.IOError, "close zstd writer", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.IOError, "fsync blob", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.IOError, "close temp blob", err)
	}
	if err := os.Rename(tmpPath, s.objectPath(hash)); err != nil {
		return errs.New(errs.IOError, "rename blob into place", err)
	}

	logging.StoreDebug("blobstore: stored object %s (%d files)", hash, len(tree))
	return nil
}

// Get reconstructs the FileSet archived under hash. Returns a
// not-found taxonomy error if the object was never archived, e.g. a
// baseline recorded before this store existed, or a snapshot-restore
// that bypassed it - callers treat this as spec.md §7's
// integrity-error ("baseline hash missing").
func (s *Store) Get(hash string) (diffengine.FileSet, error) {
	f, err := os.Open(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ForArtifact(errs.NotFound, hash, "blob not found", err)
		}
		return nil, errs.ForArtifact(errs.IOError, hash, "open blob", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, errs.ForArtifact(errs.IntegrityError, hash, "open zstd reader", err)
	}
	defer zr.Close()

	tree := diffengine.FileSet{}
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errs.ForArtifact(errs.IntegrityError, hash, "read blob entry", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errs.ForArtifact(errs.IntegrityError, hash, fmt.Sprintf("read blob body %s", hdr.Name), err)
		}
		tree[hdr.Name] = data
	}
	return tree, nil
}

func sortedKeys(tree diffengine.FileSet) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
