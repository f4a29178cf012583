package diffengine

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"skillmeat/internal/hashtree"
)

// FileStatus tags one file's classification in a two-way tree diff.
type FileStatus string

const (
	StatusAdded     FileStatus = "added"
	StatusRemoved   FileStatus = "removed"
	StatusModified  FileStatus = "modified"
	StatusUnchanged FileStatus = "unchanged"
	StatusBinary    FileStatus = "binary"
)

// FileResult is the per-file record in a two-way tree diff.
type FileResult struct {
	Path         string
	Status       FileStatus
	LinesAdded   int
	LinesRemoved int
	UnifiedDiff  string // empty for binary or unmodified files
}

// TreeDiff is the output of a two-way diff over a pair of file trees.
type TreeDiff struct {
	FilesAdded       []string
	FilesRemoved     []string
	FilesModified    []FileResult
	FilesUnchanged   []string
	TotalLinesAdded  int
	TotalLinesRemoved int
}

// FileSet is an in-memory representation of a directory's text/binary
// contents keyed by slash-separated relative path. Diffing operates on
// FileSets rather than the filesystem directly so the same engine serves
// collection trees, deployed project trees, and in-memory merge inputs.
type FileSet map[string][]byte

// DiffTrees computes the two-way diff from source to target, per
// spec.md §4.5.
func DiffTrees(source, target FileSet) *TreeDiff {
	result := &TreeDiff{}

	paths := unionKeys(source, target)
	for _, path := range paths {
		srcBytes, inSrc := source[path]
		tgtBytes, inTgt := target[path]

		switch {
		case inSrc && !inTgt:
			result.FilesRemoved = append(result.FilesRemoved, path)
		case !inSrc && inTgt:
			result.FilesAdded = append(result.FilesAdded, path)
		case bytes.Equal(srcBytes, tgtBytes):
			result.FilesUnchanged = append(result.FilesUnchanged, path)
		default:
			if hashtree.IsBinary(srcBytes) || hashtree.IsBinary(tgtBytes) {
				result.FilesModified = append(result.FilesModified, FileResult{Path: path, Status: StatusBinary})
				continue
			}
			ld := computeLineDiff(string(srcBytes), string(tgtBytes))
			result.FilesModified = append(result.FilesModified, FileResult{
				Path:         path,
				Status:       StatusModified,
				LinesAdded:   ld.LinesAdded,
				LinesRemoved: ld.LinesRemoved,
				UnifiedDiff:  renderUnifiedDiff(path, ld.Hunks),
			})
			result.TotalLinesAdded += ld.LinesAdded
			result.TotalLinesRemoved += ld.LinesRemoved
		}
	}

	sort.Strings(result.FilesAdded)
	sort.Strings(result.FilesRemoved)
	sort.Strings(result.FilesUnchanged)
	sort.Slice(result.FilesModified, func(i, j int) bool { return result.FilesModified[i].Path < result.FilesModified[j].Path })

	return result
}

func unionKeys(a, b FileSet) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// renderUnifiedDiff renders hunks as a unified-diff text block.
func renderUnifiedDiff(path string, hunks []Hunk) string {
	if len(hunks) == 0 {
		return ""
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Type {
			case LineContext:
				fmt.Fprintf(&buf, " %s\n", l.Content)
			case LineAdded:
				fmt.Fprintf(&buf, "+%s\n", l.Content)
			case LineRemoved:
				fmt.Fprintf(&buf, "-%s\n", l.Content)
			}
		}
	}
	return buf.String()
}

// ReadTree reads every regular file under dir into a FileSet keyed by
// slash-separated relative path. A missing dir yields an empty, non-error
// FileSet: an artifact that has never been deployed, or never existed on
// one side of a diff, is a valid "absent" tree rather than a read failure.
// A dir that is itself a regular file (single-file artifacts such as
// commands/<name>.md) yields a one-entry set keyed by its base name.
func ReadTree(dir string) (FileSet, error) {
	out := FileSet{}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(dir)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		out[filepath.Base(dir)] = data
		return out, nil
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return out, nil
}

// WriteTree reconciles dir's on-disk contents to exactly match target:
// every file in target is written atomically (write-temp, fsync, rename),
// and every file present on disk but absent from target is removed.
// Writes happen before removals so a crash mid-reconcile never leaves dir
// in a state with neither the old nor the new version of a file.
//
// For a single-file artifact (commands/<name>.md), target holds exactly
// one entry keyed by dir's own base name - the mirror of ReadTree's
// file-root case - and dir is written to directly rather than treated
// as a directory containing one file.
func WriteTree(dir string, target FileSet) error {
	if data, ok := singleFileTarget(dir, target); ok {
		if err := atomicWriteTreeFile(dir, data); err != nil {
			return fmt.Errorf("write %s: %w", dir, err)
		}
		return nil
	}
	if len(target) == 0 {
		if info, err := os.Lstat(dir); err == nil && !info.IsDir() {
			if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", dir, err)
			}
			return nil
		}
	}

	current, err := ReadTree(dir)
	if err != nil {
		return fmt.Errorf("read current tree %s: %w", dir, err)
	}

	for _, path := range sortedFileSetKeys(target) {
		if err := atomicWriteTreeFile(filepath.Join(dir, filepath.FromSlash(path)), target[path]); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	for path := range current {
		if _, keep := target[path]; keep {
			continue
		}
		_ = os.Remove(filepath.Join(dir, filepath.FromSlash(path)))
	}
	return nil
}

// singleFileTarget reports whether target represents a single-file
// artifact rooted at dir: exactly one entry keyed by dir's base name.
func singleFileTarget(dir string, target FileSet) ([]byte, bool) {
	if len(target) != 1 {
		return nil, false
	}
	data, ok := target[filepath.Base(dir)]
	return data, ok
}

func sortedFileSetKeys(fs FileSet) []string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func atomicWriteTreeFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tree-*.tmp")
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
