// Package snapshot implements the Snapshot Archiver (C9): it packs a
// whole collection into a restorable zstd-compressed tar archive before
// destructive operations, alongside a TOML sidecar manifest.
package snapshot

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"skillmeat/internal/errs"
	"skillmeat/internal/logging"
	"skillmeat/internal/model"
)

const (
	archiveExt  = ".tar.zst"
	manifestExt = ".toml"
)

// Create archives collectionRoot into snapshotsDir as a zstd-compressed
// tar, writing a TOML sidecar manifest alongside it. Returns the manifest.
func Create(collectionRoot, collectionName, snapshotsDir, message string) (model.SnapshotManifest, error) {
	timer := logging.StartTimer(logging.CategorySnapshot, "snapshot.Create")
	defer timer.Stop()

	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return model.SnapshotManifest{}, errs.New(errs.IOError, "create snapshots directory", err)
	}

	created := time.Now()
	// Ids start with the fixed-width UTC creation timestamp so they sort
	// chronologically; the uuid suffix keeps same-instant ids distinct.
	id := created.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
	archivePath := filepath.Join(snapshotsDir, id+archiveExt)

	artifactCount, totalBytes, err := writeArchive(collectionRoot, archivePath)
	if err != nil {
		return model.SnapshotManifest{}, err
	}

	m := model.SnapshotManifest{
		SnapshotID:     id,
		CollectionName: collectionName,
		Message:        message,
		Created:        created,
		ArtifactCount:  artifactCount,
		TotalBytes:     totalBytes,
	}

	if err := writeManifest(snapshotsDir, m); err != nil {
		os.Remove(archivePath)
		return model.SnapshotManifest{}, err
	}

	logging.Snapshot("created snapshot %s (%d files, %d bytes)", id, artifactCount, totalBytes)
	return m, nil
}

func writeArchive(collectionRoot, archivePath string) (fileCount int, totalBytes int64, err error) {
	dir := filepath.Dir(archivePath)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.tar.zst.tmp")
	if err != nil {
		return 0, 0, errs.New(errs.IOError, "create temp archive", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return 0, 0, errs.New(errs.IOError, "create zstd writer", err)
	}
	tw := tar.NewWriter(zw)

	var paths []string
	err = filepath.Walk(collectionRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		tw.Close()
		zw.Close()
		tmp.Close()
		return 0, 0, errs.New(errs.IOError, "walk collection tree", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		rel, err := filepath.Rel(collectionRoot, path)
		if err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "relativize path", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "stat file", err)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "build tar header", err)
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "write tar header", err)
		}

		f, err := os.Open(path)
		if err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "open source file", err)
		}
		n, err := io.Copy(tw, f)
		f.Close()
		if err != nil {
			tw.Close()
			zw.Close()
			tmp.Close()
			return 0, 0, errs.New(errs.IOError, "copy file into archive", err)
		}

		fileCount++
		totalBytes += n
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		tmp.Close()
		return 0, 0, errs.New(errs.IOError, "close tar writer", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, 0, errs.New(errs.IOError, "close zstd writer", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, 0, errs.New(errs.IOError, "fsync archive", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, 0, errs.New(errs.IOError, "close temp archive", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return 0, 0, errs.New(errs.IOError, "rename archive into place", err)
	}

	return fileCount, totalBytes, nil
}

func manifestPath(snapshotsDir, id string) string {
	return filepath.Join(snapshotsDir, id+manifestExt)
}

func writeManifest(snapshotsDir string, m model.SnapshotManifest) error {
	tmp, err := os.CreateTemp(snapshotsDir, ".snapshot-manifest-*.toml.tmp")
	if err != nil {
		return errs.New(errs.IOError, "create temp manifest", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := toml.NewEncoder(tmp).Encode(m); err != nil {
		tmp.Close()
		return errs.New(errs.IOError, "encode snapshot manifest", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.New(errs.IOError, "fsync snapshot manifest", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.New(errs.IOError, "close temp manifest", err)
	}
	return os.Rename(tmpPath, manifestPath(snapshotsDir, m.SnapshotID))
}

// List returns every snapshot's manifest under snapshotsDir, sorted by
// creation time, oldest first. Snapshot ids begin with their UTC creation
// timestamp, so this is also id order.
func List(snapshotsDir string) ([]model.SnapshotManifest, error) {
	entries, err := os.ReadDir(snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.New(errs.IOError, "read snapshots directory", err)
	}

	var manifests []model.SnapshotManifest
	for _, e := range entries {
		if filepath.Ext(e.Name()) != manifestExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(snapshotsDir, e.Name()))
		if err != nil {
			return nil, errs.New(errs.IOError, "read snapshot manifest", err)
		}
		var m model.SnapshotManifest
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, errs.New(errs.ParseError, "parse snapshot manifest "+e.Name(), err)
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Created.Before(manifests[j].Created) })
	return manifests, nil
}

// Restore extracts the archive for snapshotID over destRoot, one file at a
// time, each written via write-temp-then-rename. It takes no backup of
// destRoot and no collection lock, does not roll back files already
// extracted when a later entry fails, and leaves in place any file in
// destRoot that the archive does not contain.
func Restore(snapshotsDir, snapshotID, destRoot string) error {
	timer := logging.StartTimer(logging.CategorySnapshot, "snapshot.Restore")
	defer timer.Stop()

	archivePath := filepath.Join(snapshotsDir, snapshotID+archiveExt)
	f, err := os.Open(archivePath)
	if err != nil {
		return errs.ForArtifact(errs.NotFound, snapshotID, "snapshot archive not found", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return errs.ForArtifact(errs.IntegrityError, snapshotID, "open zstd reader", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.ForArtifact(errs.IntegrityError, snapshotID, "read tar entry", err)
		}

		target := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return errs.ForArtifact(errs.IOError, snapshotID, "create directory during restore", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return errs.ForArtifact(errs.IOError, snapshotID, "create parent directory during restore", err)
			}
			if err := extractFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return errs.ForArtifact(errs.IOError, snapshotID, fmt.Sprintf("extract %s", hdr.Name), err)
			}
		}
	}

	logging.Snapshot("restored snapshot %s into %s", snapshotID, destRoot)
	return nil
}

func extractFile(target string, r io.Reader, mode os.FileMode) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".restore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write extracted file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod extracted file: %w", err)
	}
	return os.Rename(tmpPath, target)
}
