// Package hashtree implements the content hasher (C1): a deterministic,
// order-independent content hash over a file tree.
//
// The accumulation strategy (hash each file concurrently, then combine the
// per-file digests in a stable sorted order) is grounded in the example
// pack's spok hash.Concurrent hasher, adapted here to frame each entry with
// its path and length rather than just concatenating raw digests, per
// spec.md §4.1's length-prefix requirement.
package hashtree

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"skillmeat/internal/logging"
)

// entry is one file's contribution to the tree hash: its relative path and
// the SHA-256 digest of its bytes.
type entry struct {
	relPath string
	size    int64
	digest  [sha256.Size]byte
}

// HashTree computes the deterministic content hash of the file tree rooted
// at dir. Files are walked depth-first, symlinks are followed only when
// their target resolves inside dir; an unreadable file fails the whole
// operation rather than being silently skipped (spec.md §4.1).
//
// dir may itself be a regular file rather than a directory - a single-file
// artifact such as commands/<name>.md (§4.2/§6) - in which case the tree
// is treated as that one file keyed by its own base name, mirroring
// diffengine.ReadTree's file-root case.
func HashTree(dir string) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "HashTree")
	defer timer.Stop()

	absRoot, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		entries, err := hashFilesConcurrently(filepath.Dir(absRoot), []string{filepath.ToSlash(filepath.Base(absRoot))})
		if err != nil {
			return "", err
		}
		return combineEntries(entries), nil
	}

	paths, err := collectFiles(absRoot, absRoot)
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	entries, err := hashFilesConcurrently(absRoot, paths)
	if err != nil {
		return "", err
	}

	return combineEntries(entries), nil
}

// collectFiles walks root depth-first and returns every regular file's path
// relative to root, following in-root symlinks.
func collectFiles(root, dir string) ([]string, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })

	var out []string
	for _, de := range names {
		full := filepath.Join(dir, de.Name())
		info, err := os.Lstat(full)
		if err != nil {
			return nil, fmt.Errorf("lstat %s: %w", full, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				return nil, fmt.Errorf("resolve symlink %s: %w", full, err)
			}
			rel, err := filepath.Rel(root, target)
			if err != nil || strings.HasPrefix(rel, "..") {
				// Target escapes the root: not followed, per spec.md §4.1.
				continue
			}
			targetInfo, err := os.Stat(target)
			if err != nil {
				return nil, fmt.Errorf("stat symlink target %s: %w", full, err)
			}
			if targetInfo.IsDir() {
				sub, err := collectFiles(root, target)
				if err != nil {
					return nil, err
				}
				out = append(out, sub...)
				continue
			}
			relSelf, err := filepath.Rel(root, full)
			if err != nil {
				return nil, err
			}
			out = append(out, filepath.ToSlash(relSelf))
			continue
		}

		if info.IsDir() {
			sub, err := collectFiles(root, full)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}

		rel, err := filepath.Rel(root, full)
		if err != nil {
			return nil, err
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// hashFilesConcurrently hashes each file's body with a worker pool bounded
// by NumCPU, mirroring the example pack's spok concurrent hasher.
func hashFilesConcurrently(root string, relPaths []string) ([]entry, error) {
	type job struct {
		relPath string
	}
	type result struct {
		entry entry
		err   error
	}

	jobs := make(chan job)
	results := make(chan result)

	nWorkers := runtime.NumCPU()
	if nWorkers > len(relPaths) {
		nWorkers = len(relPaths)
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				full := filepath.Join(root, filepath.FromSlash(j.relPath))
				f, err := os.Open(full)
				if err != nil {
					results <- result{err: fmt.Errorf("open %s: %w", j.relPath, err)}
					continue
				}
				info, err := f.Stat()
				if err != nil {
					f.Close()
					results <- result{err: fmt.Errorf("stat %s: %w", j.relPath, err)}
					continue
				}
				h := sha256.New()
				if _, err := io.Copy(h, f); err != nil {
					f.Close()
					results <- result{err: fmt.Errorf("read %s: %w", j.relPath, err)}
					continue
				}
				f.Close()

				var digest [sha256.Size]byte
				copy(digest[:], h.Sum(nil))
				results <- result{entry: entry{relPath: j.relPath, size: info.Size(), digest: digest}}
			}
		}()
	}

	go func() {
		for _, p := range relPaths {
			jobs <- job{relPath: p}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	entries := make([]entry, 0, len(relPaths))
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		entries = append(entries, r.entry)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return entries, nil
}

// combineEntries folds the per-file entries into a single digest. Entries
// are sorted by relative path first so concurrent hashing never perturbs
// the final result; each entry is framed as
// path \x00 length(big-endian uint64) \x00 digest to prevent
// length-extension confusion between adjacent entries (spec.md §4.1).
func combineEntries(entries []entry) string {
	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	final := sha256.New()
	var lenBuf [8]byte
	for _, e := range entries {
		final.Write([]byte(e.relPath))
		final.Write([]byte{0})
		binary.BigEndian.PutUint64(lenBuf[:], uint64(e.size))
		final.Write(lenBuf[:])
		final.Write([]byte{0})
		final.Write(e.digest[:])
	}
	return hex.EncodeToString(final.Sum(nil))
}

// ContentHash hashes a single in-memory string, for deployed-file
// change detection (spec.md §4.1's "second, content-only variant").
func ContentHash(content string) string {
	h := sha256.New()
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// IsBinary reports whether data looks like a binary file: the first 8 KiB
// contain a NUL byte, or the data fails to decode as UTF-8 (spec.md §4.5).
func IsBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	return !utf8.Valid(data)
}
