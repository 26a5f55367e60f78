package pathutil

import "testing"

func TestNormalizeFixedPoint(t *testing.T) {
	cases := []struct{ cwd, input, want string }{
		{"/", "foo", "/foo"},
		{"/", "/foo/bar", "/foo/bar"},
		{"/foo", "..", "/"},
		{"/foo/bar", "../..", "/"},
		{"/", "../../..", "/"},
		{"/a/b", "./c/../d", "/a/b/d"},
		{"/", "a\\b\\c", "/a/b/c"},
		{"/a", "/b/../../../c", "/c"},
		{"/", "", "/"},
		{"/a/b/", "c", "/a/b/c"},
	}
	for _, c := range cases {
		got := Normalize(c.cwd, c.input)
		if got != c.want {
			t.Errorf("Normalize(%q,%q) = %q, want %q", c.cwd, c.input, got, c.want)
		}
		// Normalizing an already-normalized path against "." is a fixed point.
		if again := Normalize(got, "."); again != got {
			t.Errorf("fixed point failed: Normalize(%q, \".\") = %q", got, again)
		}
	}
}

func TestNormalizeInvariants(t *testing.T) {
	inputs := []string{"/a/b/c", "../x", "a/b/../../../../etc", "//a///b", "/a/./b/."}
	for _, in := range inputs {
		got := Normalize("/some/cwd", in)
		if got[0] != '/' {
			t.Fatalf("result %q does not start with /", got)
		}
		for _, seg := range splitNonEmpty(got) {
			if seg == "." || seg == ".." {
				t.Fatalf("result %q contains a %q segment", got, seg)
			}
		}
	}
}

func splitNonEmpty(p string) []string {
	var out []string
	cur := ""
	for _, r := range p {
		if r == '/' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func TestHasPrefix(t *testing.T) {
	if !HasPrefix("/inc/foo", "/") {
		t.Error("root must prefix everything")
	}
	if HasPrefix("/incoming", "/inc") {
		t.Error("/inc must not match /incoming")
	}
	if !HasPrefix("/inc/foo", "/inc") {
		t.Error("/inc must match /inc/foo")
	}
}
