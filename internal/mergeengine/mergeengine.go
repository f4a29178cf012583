// Package mergeengine implements the Merge Engine (C6): three-way tree
// merges with Git-style conflict markers, built on top of the
// classification internal/diffengine produces. All writes go through
// write-temp-then-rename so an interrupted merge never leaves a
// half-written file, mirroring the atomic-write discipline used
// throughout internal/manifest and internal/ledger.
package mergeengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"skillmeat/internal/diffengine"
	"skillmeat/internal/errs"
	"skillmeat/internal/model"
)

const (
	localMarker  = "<<<<<<< LOCAL (current)"
	sepMarker    = "======="
	remoteMarker = ">>>>>>> REMOTE (incoming)"
	deletedPlaceholder = "(file deleted)"
)

// Stats summarizes one merge's outcome across a tree.
type Stats struct {
	Total            int
	AutoMerged       int
	Conflicted       int
	BinaryConflicted int
}

// Result is the outcome of a tree merge.
type Result struct {
	Success   bool
	Stats     Stats
	Summary   string
	Conflicts []model.ConflictDescriptor
}

// MergeTrees resolves base/local/remote into output per spec.md §4.6,
// writing auto-mergeable files and conflict-marker files atomically.
func MergeTrees(base, local, remote diffengine.FileSet, outputDir string) (*Result, error) {
	diff := diffengine.DiffThreeWay(base, local, remote)

	result := &Result{Conflicts: diff.Conflicts}
	result.Stats.Total = len(diff.AutoMergeable) + len(diff.Conflicts)

	for _, decision := range diff.AutoMergeable {
		if decision.Winner == diffengine.WinnerDeleted {
			removeFromOutput(outputDir, decision.Path)
			result.Stats.AutoMerged++
			continue
		}

		var payload []byte
		switch decision.Winner {
		case diffengine.WinnerLocal:
			payload = local[decision.Path]
		case diffengine.WinnerRemote:
			payload = remote[decision.Path]
		case diffengine.WinnerEither:
			payload = local[decision.Path]
		}
		if err := atomicWrite(filepath.Join(outputDir, filepath.FromSlash(decision.Path)), payload); err != nil {
			return nil, errs.ForArtifact(errs.IOError, decision.Path, "write auto-merged file", err)
		}
		result.Stats.AutoMerged++
	}

	for _, c := range diff.Conflicts {
		if c.NeverAutoMerge && c.Kind != model.ConflictDeletion {
			// Binary conflict: no marker file, copy the local side unchanged.
			if c.HasLocalContent {
				if err := atomicWrite(filepath.Join(outputDir, filepath.FromSlash(c.Path)), c.LocalContent); err != nil {
					return nil, errs.ForArtifact(errs.IOError, c.Path, "write binary conflict (local copy)", err)
				}
			}
			result.Stats.BinaryConflicted++
			result.Stats.Conflicted++
			continue
		}

		markerBody := renderConflictMarkers(c)
		if err := atomicWrite(filepath.Join(outputDir, filepath.FromSlash(c.Path)), markerBody); err != nil {
			return nil, errs.ForArtifact(errs.IOError, c.Path, "write conflict markers", err)
		}
		result.Stats.Conflicted++
	}

	result.Success = result.Stats.Conflicted == 0
	result.Summary = fmt.Sprintf(
		"%d files: %d auto-merged, %d conflicted (%d binary)",
		result.Stats.Total, result.Stats.AutoMerged, result.Stats.Conflicted, result.Stats.BinaryConflicted,
	)
	return result, nil
}

// MergeFiles handles a single file's three-way merge without tree
// walking, returning the resolved bytes (for auto-merge) or the
// conflict-marker bytes (for a conflict), plus whether it conflicted.
func MergeFiles(path string, base, local, remote []byte, hasBase, hasLocal, hasRemote bool) (content []byte, conflicted bool, err error) {
	var baseSet, localSet, remoteSet diffengine.FileSet
	if hasBase {
		baseSet = diffengine.FileSet{path: base}
	} else {
		baseSet = diffengine.FileSet{}
	}
	if hasLocal {
		localSet = diffengine.FileSet{path: local}
	} else {
		localSet = diffengine.FileSet{}
	}
	if hasRemote {
		remoteSet = diffengine.FileSet{path: remote}
	} else {
		remoteSet = diffengine.FileSet{}
	}

	diff := diffengine.DiffThreeWay(baseSet, localSet, remoteSet)

	if len(diff.Conflicts) == 1 {
		return renderConflictMarkers(diff.Conflicts[0]), true, nil
	}
	if len(diff.AutoMergeable) == 1 {
		switch diff.AutoMergeable[0].Winner {
		case diffengine.WinnerLocal, diffengine.WinnerEither:
			return local, false, nil
		case diffengine.WinnerRemote:
			return remote, false, nil
		case diffengine.WinnerDeleted:
			return nil, false, nil
		}
	}
	// Unchanged on all sides.
	return local, false, nil
}

// ResolveConflict applies a chosen resolution strategy to one conflict
// descriptor, returning the bytes to write. strategy `merge` requires a
// non-empty mergedContent; any strategy resolving to a side with no
// content for that side fails rather than writing an empty file.
func ResolveConflict(c model.ConflictDescriptor, resolution model.Resolution, mergedContent []byte) ([]byte, error) {
	switch resolution {
	case model.ResolveUseLocal:
		if !c.HasLocalContent {
			return nil, errs.ForArtifact(errs.ConstraintViolation, c.Path, "use-local requested but local side has no content", nil)
		}
		return c.LocalContent, nil
	case model.ResolveUseRemote:
		if !c.HasRemoteContent {
			return nil, errs.ForArtifact(errs.ConstraintViolation, c.Path, "use-remote requested but remote side has no content", nil)
		}
		return c.RemoteContent, nil
	case model.ResolveUseBase:
		if !c.HasBaseContent {
			return nil, errs.ForArtifact(errs.ConstraintViolation, c.Path, "use-base requested but base side has no content", nil)
		}
		return c.BaseContent, nil
	case model.ResolveMerge:
		if len(mergedContent) == 0 {
			return nil, errs.ForArtifact(errs.ConstraintViolation, c.Path, "merge resolution requires caller-provided merged content", nil)
		}
		return mergedContent, nil
	default:
		return nil, errs.ForArtifact(errs.ConstraintViolation, c.Path, fmt.Sprintf("unsupported resolution %q", resolution), nil)
	}
}

func renderConflictMarkers(c model.ConflictDescriptor) []byte {
	localSection := deletedPlaceholder
	if c.HasLocalContent {
		localSection = string(c.LocalContent)
	}
	remoteSection := deletedPlaceholder
	if c.HasRemoteContent {
		remoteSection = string(c.RemoteContent)
	}

	var buf bytes.Buffer
	buf.WriteString(localMarker)
	buf.WriteString("\n")
	buf.WriteString(localSection)
	if len(localSection) == 0 || localSection[len(localSection)-1] != '\n' {
		buf.WriteString("\n")
	}
	buf.WriteString(sepMarker)
	buf.WriteString("\n")
	buf.WriteString(remoteSection)
	if len(remoteSection) == 0 || remoteSection[len(remoteSection)-1] != '\n' {
		buf.WriteString("\n")
	}
	buf.WriteString(remoteMarker)
	buf.WriteString("\n")
	return buf.Bytes()
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".merge-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

func removeFromOutput(outputDir, path string) {
	_ = os.Remove(filepath.Join(outputDir, filepath.FromSlash(path)))
}
