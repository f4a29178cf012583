package diffengine

import (
	"testing"

	"skillmeat/internal/model"
)

func TestDiffTreesClassifiesAddedRemovedModifiedUnchanged(t *testing.T) {
	source := FileSet{
		"a.txt": []byte("hello\nworld\n"),
		"b.txt": []byte("unchanged\n"),
		"c.txt": []byte("will be removed\n"),
	}
	target := FileSet{
		"a.txt": []byte("hello\nthere\n"),
		"b.txt": []byte("unchanged\n"),
		"d.txt": []byte("new file\n"),
	}

	diff := DiffTrees(source, target)

	if len(diff.FilesAdded) != 1 || diff.FilesAdded[0] != "d.txt" {
		t.Errorf("expected d.txt added, got %v", diff.FilesAdded)
	}
	if len(diff.FilesRemoved) != 1 || diff.FilesRemoved[0] != "c.txt" {
		t.Errorf("expected c.txt removed, got %v", diff.FilesRemoved)
	}
	if len(diff.FilesUnchanged) != 1 || diff.FilesUnchanged[0] != "b.txt" {
		t.Errorf("expected b.txt unchanged, got %v", diff.FilesUnchanged)
	}
	if len(diff.FilesModified) != 1 || diff.FilesModified[0].Path != "a.txt" {
		t.Fatalf("expected a.txt modified, got %v", diff.FilesModified)
	}
	if diff.FilesModified[0].Status != StatusModified {
		t.Errorf("expected modified status, got %s", diff.FilesModified[0].Status)
	}
	if diff.FilesModified[0].UnifiedDiff == "" {
		t.Error("expected non-empty unified diff for a text modification")
	}
	if diff.TotalLinesAdded == 0 || diff.TotalLinesRemoved == 0 {
		t.Errorf("expected non-zero line totals, got +%d/-%d", diff.TotalLinesAdded, diff.TotalLinesRemoved)
	}
}

func TestDiffTreesMarksBinaryWithoutUnifiedDiff(t *testing.T) {
	source := FileSet{"bin": []byte("abc\x00def")}
	target := FileSet{"bin": []byte("xyz\x00def")}

	diff := DiffTrees(source, target)
	if len(diff.FilesModified) != 1 {
		t.Fatalf("expected 1 modified file, got %d", len(diff.FilesModified))
	}
	if diff.FilesModified[0].Status != StatusBinary {
		t.Errorf("expected binary status, got %s", diff.FilesModified[0].Status)
	}
	if diff.FilesModified[0].UnifiedDiff != "" {
		t.Error("expected no unified diff for a binary file")
	}
}

func TestDiffThreeWayTakeRemoteWhenOnlyRemoteChanged(t *testing.T) {
	base := FileSet{"f": []byte("base")}
	local := FileSet{"f": []byte("base")}
	remote := FileSet{"f": []byte("remote-edit")}

	d := DiffThreeWay(base, local, remote)
	if len(d.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", d.Conflicts)
	}
	if len(d.AutoMergeable) != 1 || d.AutoMergeable[0].Winner != WinnerRemote {
		t.Fatalf("expected auto-merge taking remote, got %v", d.AutoMergeable)
	}
}

func TestDiffThreeWayTakeLocalWhenOnlyLocalChanged(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("base")}, FileSet{"f": []byte("local-edit")}, FileSet{"f": []byte("base")})
	if len(d.AutoMergeable) != 1 || d.AutoMergeable[0].Winner != WinnerLocal {
		t.Fatalf("expected auto-merge taking local, got %v", d.AutoMergeable)
	}
}

func TestDiffThreeWayIdenticalChangeIsEither(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("base")}, FileSet{"f": []byte("same-edit")}, FileSet{"f": []byte("same-edit")})
	if len(d.AutoMergeable) != 1 || d.AutoMergeable[0].Winner != WinnerEither {
		t.Fatalf("expected auto-merge either, got %v", d.AutoMergeable)
	}
}

func TestDiffThreeWayBothModifiedDifferentlyIsConflict(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("base")}, FileSet{"f": []byte("local-edit")}, FileSet{"f": []byte("remote-edit")})
	if len(d.AutoMergeable) != 0 {
		t.Fatalf("expected no auto-merge, got %v", d.AutoMergeable)
	}
	if len(d.Conflicts) != 1 || d.Conflicts[0].Kind != model.ConflictBothModified {
		t.Fatalf("expected both-modified conflict, got %v", d.Conflicts)
	}
}

func TestDiffThreeWayDeletionConflictWhenRemoteChangedAndLocalDeleted(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("base")}, FileSet{}, FileSet{"f": []byte("remote-edit")})
	if len(d.Conflicts) != 1 || d.Conflicts[0].Kind != model.ConflictDeletion {
		t.Fatalf("expected deletion conflict, got %v", d.Conflicts)
	}
	if d.Conflicts[0].HasLocalContent {
		t.Error("expected HasLocalContent false for the deleted side")
	}
}

func TestDiffThreeWayDeletionPropagatesWhenRemoteUnchanged(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("base")}, FileSet{}, FileSet{"f": []byte("base")})
	if len(d.Conflicts) != 0 {
		t.Fatalf("expected no conflict when deletion is uncontested, got %v", d.Conflicts)
	}
	if len(d.AutoMergeable) != 1 || d.AutoMergeable[0].Winner != WinnerDeleted {
		t.Fatalf("expected auto-merge deletion, got %v", d.AutoMergeable)
	}
}

func TestDiffThreeWayAddAddConflict(t *testing.T) {
	d := DiffThreeWay(FileSet{}, FileSet{"f": []byte("local-new")}, FileSet{"f": []byte("remote-new")})
	if len(d.Conflicts) != 1 || d.Conflicts[0].Kind != model.ConflictAddAdd {
		t.Fatalf("expected add-add conflict, got %v", d.Conflicts)
	}
}

func TestDiffThreeWayAddAddIdenticalIsEither(t *testing.T) {
	d := DiffThreeWay(FileSet{}, FileSet{"f": []byte("same")}, FileSet{"f": []byte("same")})
	if len(d.AutoMergeable) != 1 || d.AutoMergeable[0].Winner != WinnerEither {
		t.Fatalf("expected either winner for identical adds, got %v", d.AutoMergeable)
	}
}

func TestDiffThreeWayUnchangedNotEmitted(t *testing.T) {
	d := DiffThreeWay(FileSet{"f": []byte("same")}, FileSet{"f": []byte("same")}, FileSet{"f": []byte("same")})
	if len(d.AutoMergeable) != 0 || len(d.Conflicts) != 0 {
		t.Fatalf("expected nothing emitted for a fully unchanged file, got auto=%v conflicts=%v", d.AutoMergeable, d.Conflicts)
	}
}

func TestDiffThreeWayBinaryConflictIsNeverAutoMergeable(t *testing.T) {
	base := FileSet{"f": []byte("base\x00")}
	local := FileSet{"f": []byte("local\x00")}
	remote := FileSet{"f": []byte("remote\x00")}

	d := DiffThreeWay(base, local, remote)
	if len(d.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(d.Conflicts))
	}
	if !d.Conflicts[0].NeverAutoMerge {
		t.Error("expected binary conflict to be flagged NeverAutoMerge")
	}
}
