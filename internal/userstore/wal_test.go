package userstore

import (
	"path/filepath"
	"testing"
)

func TestWALAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	salt, _ := newSalt()
	key := deriveKey("pw", salt)

	w, err := openWAL(path, key)
	if err != nil {
		t.Fatalf("openWAL() error = %v", err)
	}

	if err := w.append(EntryAddUser, "archangel", Account{Name: "archangel", CreditsKB: 10}); err != nil {
		t.Fatalf("append(Add) error = %v", err)
	}
	if err := w.append(EntryUpdateUser, "archangel", Account{Name: "archangel", CreditsKB: 20}); err != nil {
		t.Fatalf("append(Update) error = %v", err)
	}
	if err := w.append(EntryAddUser, "leecher", Account{Name: "leecher"}); err != nil {
		t.Fatalf("append(Add leecher) error = %v", err)
	}
	if err := w.append(EntryDeleteUser, "leecher", Account{}); err != nil {
		t.Fatalf("append(Delete) error = %v", err)
	}
	if err := w.close(); err != nil {
		t.Fatal(err)
	}

	w2, err := openWAL(path, key)
	if err != nil {
		t.Fatalf("reopen openWAL() error = %v", err)
	}
	defer w2.close()

	accounts := map[string]Account{}
	if err := w2.replay(accounts); err != nil {
		t.Fatalf("replay() error = %v", err)
	}

	if _, present := accounts["leecher"]; present {
		t.Error("leecher should have been deleted by replay")
	}
	if got := accounts["archangel"].CreditsKB; got != 20 {
		t.Errorf("got credits=%d, want 20 (last write wins)", got)
	}
}

func TestWALTruncateResetsSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	salt, _ := newSalt()
	key := deriveKey("pw", salt)

	w, err := openWAL(path, key)
	if err != nil {
		t.Fatal(err)
	}
	defer w.close()

	if err := w.append(EntryAddUser, "a", Account{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if w.size == 0 {
		t.Fatal("expected non-zero size after append")
	}
	if err := w.truncate(); err != nil {
		t.Fatalf("truncate() error = %v", err)
	}
	if w.size != 0 {
		t.Errorf("got size=%d after truncate, want 0", w.size)
	}

	accounts := map[string]Account{}
	if err := w.replay(accounts); err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 0 {
		t.Errorf("expected no entries after truncate, got %d", len(accounts))
	}
}

func TestWALReplayRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	salt1, _ := newSalt()
	salt2, _ := newSalt()

	w, err := openWAL(path, deriveKey("pw1", salt1))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.append(EntryAddUser, "a", Account{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	w.close()

	w2, err := openWAL(path, deriveKey("pw2", salt2))
	if err != nil {
		t.Fatal(err)
	}
	defer w2.close()

	accounts := map[string]Account{}
	if err := w2.replay(accounts); err == nil {
		t.Error("expected replay with wrong key to fail")
	}
}
