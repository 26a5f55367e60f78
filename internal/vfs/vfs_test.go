package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMapToPhysicalRejectsEscape(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Skip("symlinks unsupported in this environment")
	}

	fs, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	if p, err := fs.MapToPhysical("/escape/../../etc/passwd"); err != nil || p != filepath.Join(fs.Root(), "etc", "passwd") {
		t.Errorf("expected \"..\" above the root to be clamped inside it, got %q, %v", p, err)
	}
	if _, err := fs.MapToPhysical("/escape"); err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied for symlink escape, got %v", err)
	}

	p, err := fs.MapToPhysical("/sub/../sub")
	if err != nil {
		t.Fatalf("unexpected error for in-root path: %v", err)
	}
	if p != sub {
		t.Errorf("got %q, want %q", p, sub)
	}
}

func TestMapToPhysicalAllowsMissingTarget(t *testing.T) {
	root := t.TempDir()
	fs, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	p, err := fs.MapToPhysical("/new/file.bin")
	if err != nil {
		t.Fatalf("unexpected error for not-yet-existing target: %v", err)
	}
	if filepath.Dir(p) != filepath.Join(root, "new") {
		t.Errorf("got %q", p)
	}
}
