package mergeengine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skillmeat/internal/diffengine"
	"skillmeat/internal/model"
)

func TestMergeTreesAutoMergesAndWritesFiles(t *testing.T) {
	out := t.TempDir()
	base := diffengine.FileSet{"f.txt": []byte("base\n")}
	local := diffengine.FileSet{"f.txt": []byte("base\n")}
	remote := diffengine.FileSet{"f.txt": []byte("remote-edit\n")}

	result, err := MergeTrees(base, local, remote, out)
	if err != nil {
		t.Fatalf("MergeTrees: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stats.AutoMerged != 1 {
		t.Errorf("expected 1 auto-merged, got %d", result.Stats.AutoMerged)
	}

	data, err := os.ReadFile(filepath.Join(out, "f.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "remote-edit\n" {
		t.Errorf("expected remote content written, got %q", data)
	}
}

func TestMergeTreesWritesConflictMarkersForBothModified(t *testing.T) {
	out := t.TempDir()
	base := diffengine.FileSet{"f.txt": []byte("base\n")}
	local := diffengine.FileSet{"f.txt": []byte("local-edit\n")}
	remote := diffengine.FileSet{"f.txt": []byte("remote-edit\n")}

	result, err := MergeTrees(base, local, remote, out)
	if err != nil {
		t.Fatalf("MergeTrees: %v", err)
	}
	if result.Success {
		t.Fatal("expected merge to fail (not succeed) with a conflict present")
	}
	if result.Stats.Conflicted != 1 {
		t.Errorf("expected 1 conflict, got %d", result.Stats.Conflicted)
	}

	data, err := os.ReadFile(filepath.Join(out, "f.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "<<<<<<< LOCAL (current)") || !strings.Contains(text, ">>>>>>> REMOTE (incoming)") {
		t.Errorf("expected git-style conflict markers, got %q", text)
	}
	if !strings.Contains(text, "local-edit") || !strings.Contains(text, "remote-edit") {
		t.Errorf("expected both sides' content present, got %q", text)
	}
}

func TestMergeTreesDeletionConflictUsesPlaceholder(t *testing.T) {
	out := t.TempDir()
	base := diffengine.FileSet{"f.txt": []byte("base\n")}
	local := diffengine.FileSet{}
	remote := diffengine.FileSet{"f.txt": []byte("remote-edit\n")}

	result, err := MergeTrees(base, local, remote, out)
	if err != nil {
		t.Fatalf("MergeTrees: %v", err)
	}
	if result.Stats.Conflicted != 1 {
		t.Fatalf("expected 1 conflict, got %d", result.Stats.Conflicted)
	}

	data, err := os.ReadFile(filepath.Join(out, "f.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "(file deleted)") {
		t.Errorf("expected deletion placeholder, got %q", data)
	}
}

func TestMergeTreesBinaryConflictCopiesLocalNoMarkers(t *testing.T) {
	out := t.TempDir()
	base := diffengine.FileSet{"bin": []byte("base\x00")}
	local := diffengine.FileSet{"bin": []byte("local\x00")}
	remote := diffengine.FileSet{"bin": []byte("remote\x00")}

	result, err := MergeTrees(base, local, remote, out)
	if err != nil {
		t.Fatalf("MergeTrees: %v", err)
	}
	if result.Stats.BinaryConflicted != 1 {
		t.Errorf("expected 1 binary conflict, got %d", result.Stats.BinaryConflicted)
	}

	data, err := os.ReadFile(filepath.Join(out, "bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "local\x00" {
		t.Errorf("expected local bytes copied unchanged, got %q", data)
	}
}

func TestMergeFilesAutoMergeTakesLocal(t *testing.T) {
	content, conflicted, err := MergeFiles("f.txt", []byte("base"), []byte("local-edit"), []byte("base"), true, true, true)
	if err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	if conflicted {
		t.Fatal("expected no conflict")
	}
	if string(content) != "local-edit" {
		t.Errorf("expected local content, got %q", content)
	}
}

func TestMergeFilesConflict(t *testing.T) {
	_, conflicted, err := MergeFiles("f.txt", []byte("base"), []byte("local-edit"), []byte("remote-edit"), true, true, true)
	if err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	if !conflicted {
		t.Fatal("expected conflict")
	}
}

func TestResolveConflictUseLocal(t *testing.T) {
	c := model.ConflictDescriptor{Path: "f.txt", HasLocalContent: true, LocalContent: []byte("local")}
	content, err := ResolveConflict(c, model.ResolveUseLocal, nil)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if string(content) != "local" {
		t.Errorf("expected local content, got %q", content)
	}
}

func TestResolveConflictUseLocalFailsWhenAbsent(t *testing.T) {
	c := model.ConflictDescriptor{Path: "f.txt", HasLocalContent: false}
	if _, err := ResolveConflict(c, model.ResolveUseLocal, nil); err == nil {
		t.Fatal("expected error resolving use-local when local side is absent")
	}
}

func TestResolveConflictMergeRequiresContent(t *testing.T) {
	c := model.ConflictDescriptor{Path: "f.txt"}
	if _, err := ResolveConflict(c, model.ResolveMerge, nil); err == nil {
		t.Fatal("expected error when merge resolution has no caller-provided content")
	}
	content, err := ResolveConflict(c, model.ResolveMerge, []byte("merged"))
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if string(content) != "merged" {
		t.Errorf("expected merged content, got %q", content)
	}
}
