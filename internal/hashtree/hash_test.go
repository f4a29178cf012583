package hashtree

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
}

func TestHashTreeDeterministic(t *testing.T) {
	files := map[string]string{
		"a.txt":        "hello",
		"sub/b.txt":    "world",
		"sub/deep/c.md": "# title\n",
	}

	d1 := t.TempDir()
	d2 := t.TempDir()
	writeTree(t, d1, files)
	writeTree(t, d2, files)

	h1, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree d1: %v", err)
	}
	h2, err := HashTree(d2)
	if err != nil {
		t.Fatalf("HashTree d2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical trees to hash equal, got %s vs %s", h1, h2)
	}
}

func TestHashTreeDiffersOnContentChange(t *testing.T) {
	d1 := t.TempDir()
	writeTree(t, d1, map[string]string{"a.txt": "hello"})
	h1, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	if err := os.WriteFile(filepath.Join(d1, "a.txt"), []byte("hello!"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	h2, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	if h1 == h2 {
		t.Fatal("expected content change to change the hash")
	}
}

func TestHashTreeDiffersOnPathRename(t *testing.T) {
	d1 := t.TempDir()
	writeTree(t, d1, map[string]string{"a.txt": "hello"})
	h1, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	if err := os.Rename(filepath.Join(d1, "a.txt"), filepath.Join(d1, "b.txt")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	h2, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}

	if h1 == h2 {
		t.Fatal("expected a rename (same content, different path) to change the hash")
	}
}

func TestHashTreeUnreadableFileFailsLoudly(t *testing.T) {
	d1 := t.TempDir()
	writeTree(t, d1, map[string]string{"a.txt": "hello"})
	if err := os.Chmod(filepath.Join(d1, "a.txt"), 0000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(filepath.Join(d1, "a.txt"), 0644)

	if os.Geteuid() == 0 {
		t.Skip("running as root ignores file permissions")
	}

	if _, err := HashTree(d1); err == nil {
		t.Fatal("expected an error hashing an unreadable file")
	}
}

func TestHashTreeSingleFileRoot(t *testing.T) {
	d1 := t.TempDir()
	commandPath := filepath.Join(d1, "foo.md")
	if err := os.WriteFile(commandPath, []byte("# foo command\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	h1, err := HashTree(commandPath)
	if err != nil {
		t.Fatalf("HashTree on a file root: %v", err)
	}

	dirHash, err := HashTree(d1)
	if err != nil {
		t.Fatalf("HashTree on containing dir: %v", err)
	}
	if h1 != dirHash {
		t.Fatalf("expected a single-file root to hash identically whether addressed by file or containing dir, got %s vs %s", h1, dirHash)
	}

	if err := os.WriteFile(commandPath, []byte("# foo command v2\n"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	h2, err := HashTree(commandPath)
	if err != nil {
		t.Fatalf("HashTree after edit: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected content change to change the single-file hash")
	}
}

func TestContentHashStable(t *testing.T) {
	if ContentHash("abc") != ContentHash("abc") {
		t.Fatal("expected identical content to hash identically")
	}
	if ContentHash("abc") == ContentHash("abd") {
		t.Fatal("expected different content to hash differently")
	}
}

func TestIsBinary(t *testing.T) {
	if IsBinary([]byte("hello world\nplain text")) {
		t.Fatal("expected plain text to be detected as non-binary")
	}
	if !IsBinary([]byte("hello\x00world")) {
		t.Fatal("expected NUL byte to be detected as binary")
	}
	if !IsBinary([]byte{0xff, 0xfe, 0x00, 0x01}) {
		t.Fatal("expected invalid UTF-8 to be detected as binary")
	}
}
