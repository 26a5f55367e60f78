package race

import (
	"testing"
	"time"
)

func TestRegisterUploadAggregatesBytes(t *testing.T) {
	e := NewEngine()

	st := e.RegisterUpload("alice", "/REL/one", "SCENE", 1000)
	st = e.RegisterUpload("alice", "/REL/one", "SCENE", 2000)

	if st.UserBytes["alice"] != 3000 {
		t.Errorf("got %d, want 3000", st.UserBytes["alice"])
	}
	if st.TotalBytes != 3000 {
		t.Errorf("got total %d, want 3000", st.TotalBytes)
	}
	if st.FileCount != 2 {
		t.Errorf("got file count %d, want 2", st.FileCount)
	}
}

func TestRegisterUploadTotalEqualsSumOfUsers(t *testing.T) {
	e := NewEngine()
	e.RegisterUpload("alice", "/REL", "SCENE", 500)
	st := e.RegisterUpload("bob", "/REL", "SCENE", 700)

	sum := int64(0)
	for _, b := range st.UserBytes {
		sum += b
	}
	if sum != st.TotalBytes {
		t.Errorf("sum of user bytes %d != total %d", sum, st.TotalBytes)
	}
}

func TestRegisterUploadCaseInsensitiveUser(t *testing.T) {
	e := NewEngine()
	e.RegisterUpload("Alice", "/REL", "SCENE", 100)
	st := e.RegisterUpload("ALICE", "/REL", "SCENE", 50)
	if len(st.UserBytes) != 1 || st.UserBytes["alice"] != 150 {
		t.Errorf("got %+v, want single case-folded key with 150", st.UserBytes)
	}
}

func TestTryGetMissingRelease(t *testing.T) {
	e := NewEngine()
	if _, ok := e.TryGet("/nope"); ok {
		t.Error("expected TryGet() to report not found")
	}
}

func TestRecentListBoundedAndOrdered(t *testing.T) {
	e := NewEngine()
	for i := 0; i < MaxRecentEntries+10; i++ {
		e.RegisterUpload("user", releaseName(i), "SCENE", 10)
	}

	recent := e.Recent(MaxRecentEntries + 50)
	if len(recent) > MaxRecentEntries {
		t.Fatalf("got %d recent entries, want at most %d", len(recent), MaxRecentEntries)
	}
	if recent[0].ReleasePath != releaseName(MaxRecentEntries+9) {
		t.Errorf("got most-recent=%q, want the last-touched release", recent[0].ReleasePath)
	}
	for _, st := range recent {
		if _, ok := e.TryGet(st.ReleasePath); !ok {
			t.Errorf("recent entry %q missing from race map", st.ReleasePath)
		}
	}
}

func TestRecentListMoveToHeadOnRetouch(t *testing.T) {
	e := NewEngine()
	e.RegisterUpload("user", "/A", "SCENE", 1)
	e.RegisterUpload("user", "/B", "SCENE", 1)
	e.RegisterUpload("user", "/A", "SCENE", 1) // retouch A

	recent := e.Recent(2)
	if recent[0].ReleasePath != "/A" {
		t.Errorf("got head=%q, want /A after retouch", recent[0].ReleasePath)
	}
}

func TestCompleteRemovesRelease(t *testing.T) {
	e := NewEngine()
	e.RegisterUpload("user", "/REL", "SCENE", 10)
	removed, ok := e.Complete("/REL")
	if !ok {
		t.Fatal("expected Complete() to report the removed state")
	}
	if removed.TotalBytes != 10 {
		t.Errorf("got removed.TotalBytes=%d, want 10", removed.TotalBytes)
	}
	if _, ok := e.TryGet("/REL"); ok {
		t.Error("expected release to be removed after Complete()")
	}
}

func TestCompleteUnknownReleaseReportsFalse(t *testing.T) {
	e := NewEngine()
	if _, ok := e.Complete("/NOPE"); ok {
		t.Error("expected Complete() on unknown release to report false")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	e := NewEngine()
	st := e.RegisterUpload("alice", "/REL", "SCENE", 100)
	st.UserBytes["alice"] = 999999 // mutate the returned snapshot

	fresh, _ := e.TryGet("/REL")
	if fresh.UserBytes["alice"] != 100 {
		t.Error("mutating a returned snapshot should not affect engine state")
	}
}

func TestPruneOlderThanEvictsStaleReleases(t *testing.T) {
	e := NewEngine()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.nowFunc = func() time.Time { return now }

	e.RegisterUpload("user", "/OLD", "SCENE", 10)

	now = now.Add(2 * time.Hour)
	e.RegisterUpload("user", "/FRESH", "SCENE", 10)

	evicted := e.PruneOlderThan(time.Hour)
	if evicted != 1 {
		t.Fatalf("got evicted=%d, want 1", evicted)
	}
	if _, ok := e.TryGet("/OLD"); ok {
		t.Error("expected stale release to be pruned")
	}
	if _, ok := e.TryGet("/FRESH"); !ok {
		t.Error("expected fresh release to survive pruning")
	}
}

func TestPruneOlderThanNoEvictionsReturnsZero(t *testing.T) {
	e := NewEngine()
	e.RegisterUpload("user", "/REL", "SCENE", 10)
	if got := e.PruneOlderThan(time.Hour); got != 0 {
		t.Errorf("got evicted=%d, want 0", got)
	}
}

func releaseName(i int) string {
	return "/REL" + string(rune('A'+i%26)) + string(rune(i))
}
