package rulescript

import "testing"

func TestNullHostAlwaysAllows(t *testing.T) {
	h := NullHost{}
	for _, eval := range []func(Context) (Result, error){
		h.EvaluateDownload, h.EvaluateUpload, h.EvaluateUser, h.EvaluateGroup,
	} {
		res, err := eval(Context{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Action != Allow {
			t.Errorf("got action %v, want Allow", res.Action)
		}
	}
}

func TestResultSiteOverride(t *testing.T) {
	r := Result{Message: SiteOverride}
	if !r.IsSiteOverride() {
		t.Error("expected IsSiteOverride() to detect the signal")
	}
}

func TestResultSectionOverride(t *testing.T) {
	r := Result{Message: SectionOverridePrefix + "ARCHIVE"}
	name, ok := r.SectionOverride()
	if !ok || name != "ARCHIVE" {
		t.Errorf("got name=%q ok=%v, want ARCHIVE/true", name, ok)
	}

	r2 := Result{Message: "plain text"}
	if _, ok := r2.SectionOverride(); ok {
		t.Error("expected no section override for plain message")
	}
}
