package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome("~"); err != nil || got != home {
		t.Fatalf("got %q err=%v", got, err)
	}
	got, err := ExpandHome("~/models/hub")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if want := filepath.Join(home, "models/hub"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestPathExistsAndIsDir(t *testing.T) {
	d := t.TempDir()
	f := filepath.Join(d, "f")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !PathExists(d) || !PathExists(f) {
		t.Fatalf("expected paths to exist")
	}
	if PathExists(filepath.Join(d, "missing")) {
		t.Fatalf("missing path reported as existing")
	}
	if !IsDir(d) || IsDir(f) {
		t.Fatalf("IsDir mismatch")
	}
}

func TestDirSize(t *testing.T) {
	d := t.TempDir()
	if err := os.MkdirAll(filepath.Join(d, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d, "a", "one"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(d, "a", "b", "two"), make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.Symlink(filepath.Join(d, "a", "one"), filepath.Join(d, "link"))

	n, err := DirSize(d)
	if err != nil {
		t.Fatalf("dirsize: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42 bytes, got %d", n)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	d := t.TempDir()
	p := filepath.Join(d, ".env")
	if err := WriteFileAtomic(p, []byte("A=1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteFileAtomic(p, []byte("A=2\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil || string(b) != "A=2\n" {
		t.Fatalf("got %q err=%v", b, err)
	}
	entries, _ := os.ReadDir(d)
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}
