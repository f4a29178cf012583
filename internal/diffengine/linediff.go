// Package diffengine implements the Diff Engine (C5): two-way diffs
// between a deployed artifact and its collection baseline, and three-way
// diffs across base/local/remote for sync merges. Line-level diffing is
// grounded directly in the teacher's internal/diff package (a
// sergi/go-diff/diffmatchpatch wrapper producing line-granularity hunks
// with a semantic cleanup pass), adapted here to skillmeat's own
// file-diff and conflict-classification vocabulary.
package diffengine

import (
	"strings"
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType tags one line of a computed diff.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single rendered line of a unified diff.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk is a contiguous group of changed lines plus surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// LineDiff is the line-level diff between two versions of one file's text.
type LineDiff struct {
	Hunks        []Hunk
	LinesAdded   int
	LinesRemoved int
}

// lineEngine wraps diffmatchpatch with a small cache keyed by content hash,
// matching the teacher's own caching strategy for repeated identical diffs
// (e.g. re-diffing the same pair of files across several artifacts in a
// batch sync).
type lineEngine struct {
	dmp   *diffmatchpatch.DiffMatchPatch
	cache sync.Map
}

type cacheKey struct {
	oldHash uint64
	newHash uint64
}

func newLineEngine() *lineEngine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &lineEngine{dmp: dmp}
}

var defaultLineEngine = newLineEngine()

// computeLineDiff diffs oldContent against newContent at line granularity,
// applying diffmatchpatch's semantic cleanup pass, then groups the result
// into hunks with 3 lines of surrounding context.
func computeLineDiff(oldContent, newContent string) LineDiff {
	key := cacheKey{oldHash: fnv1a(oldContent), newHash: fnv1a(newContent)}
	if cached, ok := defaultLineEngine.cache.Load(key); ok {
		return cached.(LineDiff)
	}

	a, b, lineArray := defaultLineEngine.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := defaultLineEngine.dmp.DiffMain(a, b, false)
	diffs = defaultLineEngine.dmp.DiffCleanupSemantic(diffs)
	diffs = defaultLineEngine.dmp.DiffCharsToLines(diffs, lineArray)

	ops := diffsToOperations(diffs)
	hunks := groupIntoHunks(ops, 3)

	result := LineDiff{Hunks: hunks}
	for _, h := range hunks {
		for _, l := range h.Lines {
			switch l.Type {
			case LineAdded:
				result.LinesAdded++
			case LineRemoved:
				result.LinesRemoved++
			}
		}
	}

	defaultLineEngine.cache.Store(key, result)
	return result
}

type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func diffsToOperations(diffs []diffmatchpatch.Diff) []operation {
	operations := make([]operation, 0)
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) == 1 && lines[0] == "" && d.Type != diffmatchpatch.DiffEqual {
			continue
		}
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for i, line := range lines {
			if i == len(lines)-1 && line == "" && len(lines) > 1 {
				continue
			}
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				operations = append(operations, operation{typ: LineContext, oldLine: oldLine, newLine: newLine, content: line})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				operations = append(operations, operation{typ: LineRemoved, oldLine: oldLine, newLine: -1, content: line})
				oldLine++
			case diffmatchpatch.DiffInsert:
				operations = append(operations, operation{typ: LineAdded, oldLine: -1, newLine: newLine, content: line})
				newLine++
			}
		}
	}
	return operations
}

func groupIntoHunks(ops []operation, contextLines int) []Hunk {
	if len(ops) == 0 {
		return nil
	}

	var hunks []Hunk
	var currentHunk *Hunk
	lastChangeIdx := -1

	for i, op := range ops {
		isChange := op.typ != LineContext

		if isChange {
			if currentHunk == nil {
				currentHunk = &Hunk{Lines: make([]Line, 0)}

				start := i - contextLines
				if start < 0 {
					start = 0
				}
				for j := start; j < i; j++ {
					if ops[j].typ == LineContext {
						currentHunk.Lines = append(currentHunk.Lines, Line{
							LineNum: ops[j].oldLine + 1,
							Content: ops[j].content,
							Type:    LineContext,
						})
					}
				}

				if start < len(ops) {
					currentHunk.OldStart = ops[start].oldLine + 1
					currentHunk.NewStart = ops[start].newLine + 1
					if ops[start].oldLine < 0 {
						currentHunk.OldStart = 0
					}
					if ops[start].newLine < 0 {
						currentHunk.NewStart = 0
					}
				}
			}
			lastChangeIdx = i
		}

		if currentHunk != nil {
			lineNum := op.oldLine + 1
			if op.typ == LineAdded {
				lineNum = op.newLine + 1
			}
			currentHunk.Lines = append(currentHunk.Lines, Line{LineNum: lineNum, Content: op.content, Type: op.typ})

			if op.typ == LineContext && i-lastChangeIdx > contextLines {
				trimTo := len(currentHunk.Lines) - (i - lastChangeIdx - contextLines)
				if trimTo > 0 && trimTo < len(currentHunk.Lines) {
					currentHunk.Lines = currentHunk.Lines[:trimTo]
				}
				computeHunkCounts(currentHunk)
				hunks = append(hunks, *currentHunk)
				currentHunk = nil
			}
		}
	}

	if currentHunk != nil && len(currentHunk.Lines) > 0 {
		computeHunkCounts(currentHunk)
		hunks = append(hunks, *currentHunk)
	}

	return hunks
}

func computeHunkCounts(h *Hunk) {
	for _, l := range h.Lines {
		if l.Type == LineRemoved || l.Type == LineContext {
			h.OldCount++
		}
		if l.Type == LineAdded || l.Type == LineContext {
			h.NewCount++
		}
	}
}

func fnv1a(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}
