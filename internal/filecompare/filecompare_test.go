package filecompare

import (
	"os"
	"path/filepath"
	"testing"
)

func openAll(t *testing.T, dir string, contents ...string) []*os.File {
	t.Helper()
	var files []*os.File
	for i, c := range contents {
		path := filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(path, []byte(c), 0o644); err != nil {
			t.Fatal(err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = f.Close() })
		files = append(files, f)
	}
	return files
}

func TestCompareIdenticalFiles(t *testing.T) {
	dir := t.TempDir()
	files := openAll(t, dir, "hello world", "hello world")
	res, err := Compare(files, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal {
		t.Fatalf("expected equal")
	}
}

func TestCompareDetectsByteMismatch(t *testing.T) {
	dir := t.TempDir()
	files := openAll(t, dir, "hello world", "hellO world")
	res, err := Compare(files, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Equal {
		t.Fatalf("expected mismatch")
	}
	if res.Mismatch != 1 {
		t.Fatalf("Mismatch = %d, want 1", res.Mismatch)
	}
}

func TestCompareDetectsLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	files := openAll(t, dir, "short", "a much longer file body")
	res, err := Compare(files, 4)
	if err != nil {
		t.Fatal(err)
	}
	if res.Equal {
		t.Fatalf("expected mismatch on differing length")
	}
}

func TestCompareThreeFilesAllEqual(t *testing.T) {
	dir := t.TempDir()
	files := openAll(t, dir, "same", "same", "same")
	res, err := Compare(files, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Equal {
		t.Fatalf("expected all three equal")
	}
}
