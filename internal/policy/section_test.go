package policy

import "testing"

func TestSectionManagerResolveLongestPrefix(t *testing.T) {
	m := NewSectionManager([]Section{
		{Name: "ARCHIVE", VirtualRoot: "/archive", Ratio: Ratio{UploadUnit: 1, DownloadUnit: 3}},
		{Name: "ARCHIVE-FREE", VirtualRoot: "/archive/free", FreeLeech: true},
	})

	got := m.Resolve("/archive/free/release/file.bin")
	if got.Name != "ARCHIVE-FREE" || !got.FreeLeech {
		t.Errorf("got %+v, want ARCHIVE-FREE free-leech section", got)
	}

	got = m.Resolve("/archive/other/file.bin")
	if got.Name != "ARCHIVE" {
		t.Errorf("got %+v, want ARCHIVE", got)
	}
}

func TestSectionManagerResolveDefaultsToRoot(t *testing.T) {
	m := NewSectionManager(nil)
	got := m.Resolve("/anywhere/at/all")
	if got.Name != "DEFAULT" {
		t.Errorf("got %+v, want DEFAULT", got)
	}
}

func TestSectionManagerLookupByAlias(t *testing.T) {
	m := NewSectionManager([]Section{
		{Name: "GAMES", Aliases: []string{"GAME", "GAMEZ"}, VirtualRoot: "/games"},
	})
	s, ok := m.Lookup("gamez")
	if !ok || s.Name != "GAMES" {
		t.Errorf("got %+v ok=%v, want GAMES via alias lookup", s, ok)
	}
	if _, ok := m.Lookup("unknown"); ok {
		t.Error("Lookup() found a section for an unregistered name")
	}
}

func TestSectionManagerResolveCaseInsensitive(t *testing.T) {
	m := NewSectionManager([]Section{{Name: "MP3", VirtualRoot: "/mp3"}})
	got := m.Resolve("/MP3/Album/track.flac")
	if got.Name != "MP3" {
		t.Errorf("got %+v, want case-insensitive match on MP3", got)
	}
}
