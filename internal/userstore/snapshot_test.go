package userstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")

	accounts := []Account{
		{Name: "archangel", Home: "/", CreditsKB: 1024, Flags: Flags{Admin: true}},
		{Name: "leecher", Home: "/incoming", CreditsKB: 0},
	}

	if err := writeSnapshot(path, "correct horse battery staple", accounts); err != nil {
		t.Fatalf("writeSnapshot() error = %v", err)
	}

	got, err := readSnapshot(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("readSnapshot() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d accounts, want 2", len(got))
	}
	if got[0].Name != "archangel" || got[0].CreditsKB != 1024 {
		t.Errorf("got %+v", got[0])
	}
}

func TestReadSnapshotWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")

	if err := writeSnapshot(path, "right", []Account{{Name: "a"}}); err != nil {
		t.Fatalf("writeSnapshot() error = %v", err)
	}
	if _, err := readSnapshot(path, "wrong"); err == nil {
		t.Error("expected error when reading snapshot with wrong passphrase")
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := readSnapshot(filepath.Join(dir, "absent.db"), "whatever")
	if !os.IsNotExist(err) {
		t.Errorf("got %v, want os.IsNotExist", err)
	}
}

func TestReadSnapshotBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")
	if err := os.WriteFile(path, make([]byte, 128), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readSnapshot(path, "whatever"); err != ErrBadMagic {
		t.Errorf("got %v, want ErrBadMagic", err)
	}
}

func TestWriteSnapshotIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.db")

	if err := writeSnapshot(path, "pw", []Account{{Name: "first"}}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "snapshot.db" {
			t.Errorf("unexpected leftover file %q after atomic write", e.Name())
		}
	}
}

func TestReadOrCreateSaltFilePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "salt")

	salt1, err := readOrCreateSaltFile(path)
	if err != nil {
		t.Fatalf("readOrCreateSaltFile() error = %v", err)
	}
	if len(salt1) != saltSize {
		t.Fatalf("got salt length %d, want %d", len(salt1), saltSize)
	}
	salt2, err := readOrCreateSaltFile(path)
	if err != nil {
		t.Fatalf("readOrCreateSaltFile() (reload) error = %v", err)
	}
	if string(salt1) != string(salt2) {
		t.Error("salt file should be stable across reloads")
	}
}
