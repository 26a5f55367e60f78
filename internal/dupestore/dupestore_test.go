package dupestore

import "testing"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMarkUploadedThenIsDupe(t *testing.T) {
	s := openTestStore(t)

	_, found, err := s.IsDupe("SCENE", "release.rar")
	if err != nil {
		t.Fatalf("IsDupe: %v", err)
	}
	if found {
		t.Fatal("expected no dupe before MarkUploaded")
	}

	if err := s.MarkUploaded("SCENE", "release.rar", "/SCENE/REL/release.rar", "alice"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	rec, found, err := s.IsDupe("SCENE", "RELEASE.RAR")
	if err != nil {
		t.Fatalf("IsDupe: %v", err)
	}
	if !found {
		t.Fatal("expected dupe after MarkUploaded (case-insensitive)")
	}
	if rec.UploadedBy != "alice" {
		t.Errorf("got uploader %q, want alice", rec.UploadedBy)
	}
}

func TestForgetRemovesRecord(t *testing.T) {
	s := openTestStore(t)
	if err := s.MarkUploaded("SCENE", "release.rar", "/p", "alice"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if err := s.Forget("SCENE", "release.rar"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	_, found, _ := s.IsDupe("SCENE", "release.rar")
	if found {
		t.Error("expected record to be gone after Forget")
	}
}

func TestSearchFiltersBySubstring(t *testing.T) {
	s := openTestStore(t)
	s.MarkUploaded("SCENE", "foo-1080p.mkv", "/a", "u")
	s.MarkUploaded("SCENE", "bar-720p.mkv", "/b", "u")

	matches, err := s.Search("SCENE", "1080p")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0] != "foo-1080p.mkv" {
		t.Errorf("got %v, want [foo-1080p.mkv]", matches)
	}
}
