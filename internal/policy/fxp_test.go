package policy

import (
	"net"
	"testing"
)

func TestFxpPolicyDefaultFallsBackToAccountFlag(t *testing.T) {
	p := &FxpPolicy{}

	got := p.Evaluate(FxpRequest{AccountAllowFXP: true})
	if !got.Allowed {
		t.Error("expected allow when AccountAllowFXP=true and no rules configured")
	}

	got = p.Evaluate(FxpRequest{AccountAllowFXP: false})
	if got.Allowed {
		t.Error("expected deny when AccountAllowFXP=false and no rules configured")
	}
	if got.DenyReason == "" {
		t.Error("expected a non-empty deny reason")
	}
}

func TestFxpPolicyFirstMatchWins(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("203.0.113.0/24")
	p := &FxpPolicy{
		Rules: []FxpRule{
			{CIDR: cidr, Allow: true},
			{Section: "ARCHIVE", Allow: false, DenyReason: "archive is FXP-restricted"},
		},
	}

	got := p.Evaluate(FxpRequest{RemoteIP: net.ParseIP("203.0.113.5"), Section: "ARCHIVE"})
	if !got.Allowed {
		t.Error("expected the CIDR rule (first match) to allow despite the later section-deny rule")
	}

	got = p.Evaluate(FxpRequest{RemoteIP: net.ParseIP("198.51.100.1"), Section: "ARCHIVE"})
	if got.Allowed || got.DenyReason != "archive is FXP-restricted" {
		t.Errorf("got %+v, want deny with the section rule's reason", got)
	}
}

func TestFxpPolicyExemptAdmins(t *testing.T) {
	p := &FxpPolicy{
		Rules: []FxpRule{
			{Section: "PRIVATE", Allow: false, ExemptAdmins: true},
		},
	}
	got := p.Evaluate(FxpRequest{Section: "PRIVATE", IsAdmin: true})
	if !got.Allowed {
		t.Error("expected admin exemption to allow despite a matching deny rule")
	}
	got = p.Evaluate(FxpRequest{Section: "PRIVATE", IsAdmin: false})
	if got.Allowed {
		t.Error("expected non-admin to be denied by the matching rule")
	}
}
