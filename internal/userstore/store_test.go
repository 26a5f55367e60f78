package userstore

import (
	"testing"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenBootstrapsDefaultAdmin(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	acct, err := s.TryAuthenticate("admin", "admin")
	if err != nil {
		t.Fatalf("TryAuthenticate() error = %v", err)
	}
	if !acct.Flags.Admin || !acct.Flags.Siteop {
		t.Errorf("bootstrapped admin missing expected flags: %+v", acct.Flags)
	}
}

func TestTryAddFindTryDelete(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	acct := Account{Name: "racer1", PasswordHash: hash, Home: "/incoming"}
	if err := s.TryAdd(acct); err != nil {
		t.Fatalf("TryAdd() error = %v", err)
	}
	if err := s.TryAdd(acct); err != ErrAlreadyExists {
		t.Errorf("TryAdd() duplicate = %v, want ErrAlreadyExists", err)
	}

	found, ok := s.Find("RACER1")
	if !ok {
		t.Fatal("Find() did not locate case-insensitively matched account")
	}
	if found.Home != "/incoming" {
		t.Errorf("got home %q", found.Home)
	}

	if err := s.TryDelete("racer1"); err != nil {
		t.Fatalf("TryDelete() error = %v", err)
	}
	if _, ok := s.Find("racer1"); ok {
		t.Error("account should be gone after TryDelete")
	}
	if err := s.TryDelete("racer1"); err != ErrNotFound {
		t.Errorf("TryDelete() missing account = %v, want ErrNotFound", err)
	}
}

func TestTryAuthenticateConcurrencyLimit(t *testing.T) {
	s := openTestStore(t, t.TempDir())

	hash, _ := HashPassword("pw")
	if err := s.TryAdd(Account{Name: "dupe", PasswordHash: hash, MaxConcurrent: 1}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.TryAuthenticate("dupe", "pw"); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := s.TryAuthenticate("dupe", "pw"); err != ErrExceedsConcurrentLogins {
		t.Fatalf("second login = %v, want ErrExceedsConcurrentLogins", err)
	}

	s.OnLogout("dupe")
	if _, err := s.TryAuthenticate("dupe", "pw"); err != nil {
		t.Fatalf("login after logout: %v", err)
	}
}

func TestTryAuthenticateWrongPassword(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	hash, _ := HashPassword("correct")
	if err := s.TryAdd(Account{Name: "user1", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryAuthenticate("user1", "wrong"); err != ErrAuthFailed {
		t.Errorf("got %v, want ErrAuthFailed", err)
	}
	if _, err := s.TryAuthenticate("nosuchuser", "whatever"); err != ErrAuthFailed {
		t.Errorf("got %v, want ErrAuthFailed for unknown user", err)
	}
}

func TestTryAuthenticateDisabledAccount(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	hash, _ := HashPassword("pw")
	if err := s.TryAdd(Account{Name: "banned", PasswordHash: hash, Disabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryAuthenticate("banned", "pw"); err != ErrAccountDisabled {
		t.Errorf("got %v, want ErrAccountDisabled", err)
	}
}

func TestCompactTruncatesWALAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Passphrase: "test-passphrase"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	hash, _ := HashPassword("pw")
	if err := s.TryAdd(Account{Name: "persisted", PasswordHash: hash, CreditsKB: 42}); err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(); err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if s.wal.size != 0 {
		t.Errorf("got wal size %d after compact, want 0", s.wal.size)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openTestStore(t, dir)
	acct, ok := reopened.Find("persisted")
	if !ok {
		t.Fatal("account missing after reopen")
	}
	if acct.CreditsKB != 42 {
		t.Errorf("got credits=%d, want 42", acct.CreditsKB)
	}
}

func TestAllReturnsEveryAccount(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	hash, _ := HashPassword("pw")
	if err := s.TryAdd(Account{Name: "second", PasswordHash: hash}); err != nil {
		t.Fatal(err)
	}
	all := s.All()
	if len(all) != 2 { // bootstrap admin + second
		t.Errorf("got %d accounts, want 2", len(all))
	}
}
