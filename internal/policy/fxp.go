package policy

import (
	"net"
	"strings"
)

// Direction classifies which side initiated the data connection (§4.8).
type Direction int

const (
	Incoming Direction = iota // PASV/EPSV
	Outgoing                  // PORT/EPRT
)

// FxpRequest carries the facts an FxpRule or the default policy evaluates.
type FxpRequest struct {
	User            string
	IsAdmin         bool
	Section         string
	VirtualPath     string
	Direction       Direction
	RemoteIP        net.IP
	ControlTLS      bool
	DataTLS         bool
	DataProtected   bool // PROT=P in effect
	AccountAllowFXP bool
}

// FxpDecision is the result of evaluating FXP policy (§4.8).
type FxpDecision struct {
	Allowed    bool
	DenyReason string
}

// FxpRule is one configurable allow/deny rule matched in order; the first
// matching rule wins (§4.8). A nil field means "don't care" (always matches
// on that dimension).
type FxpRule struct {
	Section      string // empty matches any
	CIDR         *net.IPNet
	RequireTLS   bool
	Direction    *Direction
	Allow        bool
	DenyReason   string
	ExemptAdmins bool
}

func (r FxpRule) matches(req FxpRequest) bool {
	if r.Section != "" && !strings.EqualFold(r.Section, req.Section) {
		return false
	}
	if r.CIDR != nil && (req.RemoteIP == nil || !r.CIDR.Contains(req.RemoteIP)) {
		return false
	}
	if r.RequireTLS && !(req.ControlTLS && req.DataTLS) {
		return false
	}
	if r.Direction != nil && *r.Direction != req.Direction {
		return false
	}
	return true
}

// FxpPolicy evaluates allow/deny for a proposed FXP transfer (C8).
type FxpPolicy struct {
	Rules []FxpRule
}

// Evaluate walks Rules in order; the first match wins. With no match, the
// decision falls back to the account's allow_fxp flag (admins may be exempt
// per a matching rule's ExemptAdmins, but the default fallback itself has no
// admin exemption beyond AccountAllowFXP).
func (p *FxpPolicy) Evaluate(req FxpRequest) FxpDecision {
	for _, r := range p.Rules {
		if !r.matches(req) {
			continue
		}
		if r.ExemptAdmins && req.IsAdmin {
			return FxpDecision{Allowed: true}
		}
		if r.Allow {
			return FxpDecision{Allowed: true}
		}
		reason := r.DenyReason
		if reason == "" {
			reason = "FXP not allowed by policy."
		}
		return FxpDecision{Allowed: false, DenyReason: reason}
	}
	if req.AccountAllowFXP {
		return FxpDecision{Allowed: true}
	}
	return FxpDecision{Allowed: false, DenyReason: "FXP not allowed: IP mismatch."}
}
