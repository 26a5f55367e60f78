package policy

import "testing"

func TestEvaluateLongestPrefixWins(t *testing.T) {
	e := NewDirectoryAccessEvaluator([]DirectoryRule{
		{Prefix: "/", CanUpload: Deny},
		{Prefix: "/incoming", CanUpload: Allow},
		{Prefix: "/incoming/private", CanUpload: Deny},
	})

	if got := e.Evaluate("/readme.txt"); got.CanUpload {
		t.Errorf("got CanUpload=true at root, want false (root rule denies)")
	}
	if got := e.Evaluate("/incoming/file.bin"); !got.CanUpload {
		t.Errorf("got CanUpload=false under /incoming, want true")
	}
	if got := e.Evaluate("/incoming/private/x"); got.CanUpload {
		t.Errorf("got CanUpload=true under /incoming/private, want false (more specific rule wins)")
	}
}

func TestEvaluateNoMatchDefaultsAllowed(t *testing.T) {
	e := NewDirectoryAccessEvaluator(nil)
	got := e.Evaluate("/anywhere")
	if !got.CanList || !got.CanUpload || !got.CanDownload {
		t.Errorf("got %+v, want all true with no rules configured", got)
	}
}

func TestEvaluateInheritLeavesDefault(t *testing.T) {
	e := NewDirectoryAccessEvaluator([]DirectoryRule{
		{Prefix: "/ro", CanUpload: Deny, CanDownload: Inherit},
	})
	got := e.Evaluate("/ro/file")
	if got.CanUpload {
		t.Error("CanUpload should be denied")
	}
	if !got.CanDownload {
		t.Error("CanDownload should inherit the allowed default")
	}
}

func TestRuleReturnsLongestMatch(t *testing.T) {
	e := NewDirectoryAccessEvaluator([]DirectoryRule{
		{Prefix: "/archive", IsFree: false},
		{Prefix: "/archive/free", IsFree: true},
	})
	r, ok := e.Rule("/archive/free/x.bin")
	if !ok || !r.IsFree {
		t.Errorf("got rule=%+v ok=%v, want the /archive/free rule with IsFree=true", r, ok)
	}
}
