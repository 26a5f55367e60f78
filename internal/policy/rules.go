// Package policy implements directory access evaluation and section
// resolution: longest-prefix matching over normalized virtual paths.
package policy

import (
	"strings"
	"sync"

	"github.com/amftpd/amftpd/internal/pathutil"
)

// Tri is a tri-state flag: explicit true/false or "inherit from default".
type Tri int

const (
	Inherit Tri = iota
	Allow
	Deny
)

// Resolve applies an explicit/inherit override on top of a base value.
func (t Tri) Resolve(base bool) bool {
	switch t {
	case Allow:
		return true
	case Deny:
		return false
	default:
		return base
	}
}

// DirectoryRule is the per-prefix access override described in §3.
type DirectoryRule struct {
	Prefix        string // normalized virtual-path key
	CanList       Tri
	CanUpload     Tri
	CanDownload   Tri
	IsFree        bool
	MultiplyCost  float64 // 0 means "not set"
	UploadBonus   float64 // 0 means "not set"
	RatioOverride *Ratio
}

// Ratio is an upload:download unit pair (§3 Section.ratio).
type Ratio struct {
	UploadUnit   int
	DownloadUnit int
}

// Access is the effective permission triple for a path (§4.4).
type Access struct {
	CanList     bool
	CanUpload   bool
	CanDownload bool
}

// DirectoryAccessEvaluator resolves the effective rule for a virtual path by
// longest-prefix match over its configured rule set (C4).
type DirectoryAccessEvaluator struct {
	mu    sync.RWMutex
	rules []DirectoryRule // kept sorted by Prefix length descending
}

// NewDirectoryAccessEvaluator builds an evaluator from an unordered rule set.
func NewDirectoryAccessEvaluator(rules []DirectoryRule) *DirectoryAccessEvaluator {
	e := &DirectoryAccessEvaluator{}
	e.SetRules(rules)
	return e
}

// SetRules replaces the rule set, re-sorting by prefix length for
// longest-prefix lookup.
func (e *DirectoryAccessEvaluator) SetRules(rules []DirectoryRule) {
	normalized := make([]DirectoryRule, len(rules))
	for i, r := range rules {
		r.Prefix = pathutil.Normalize("/", r.Prefix)
		normalized[i] = r
	}
	sortByPrefixLenDesc(normalized)

	e.mu.Lock()
	e.rules = normalized
	e.mu.Unlock()
}

// Evaluate returns the effective access triple for target, defaulting to
// fully-allowed when no rule matches or a matching rule leaves a flag at
// Inherit (§4.4: "null inherits from the default (all allowed)").
func (e *DirectoryAccessEvaluator) Evaluate(target string) Access {
	target = pathutil.Normalize("/", target)

	e.mu.RLock()
	defer e.mu.RUnlock()

	access := Access{CanList: true, CanUpload: true, CanDownload: true}
	for _, r := range e.rules {
		if pathutil.HasPrefix(target, r.Prefix) {
			access.CanList = r.CanList.Resolve(access.CanList)
			access.CanUpload = r.CanUpload.Resolve(access.CanUpload)
			access.CanDownload = r.CanDownload.Resolve(access.CanDownload)
			return access
		}
	}
	return access
}

// Rule returns the longest-prefix-matching rule for target, if any, so
// callers (e.g. CreditEngine) can read cost multipliers and free-leech.
func (e *DirectoryAccessEvaluator) Rule(target string) (DirectoryRule, bool) {
	target = pathutil.Normalize("/", target)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if pathutil.HasPrefix(target, r.Prefix) {
			return r, true
		}
	}
	return DirectoryRule{}, false
}

func sortByPrefixLenDesc(rules []DirectoryRule) {
	// Simple insertion sort: rule sets are small (tens, not thousands of
	// entries) and this keeps the comparison explicit and stable for equal
	// lengths (first-registered wins ties), matching longest-prefix intent.
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && len(rules[j].Prefix) > len(rules[j-1].Prefix); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// caseInsensitiveHasPrefix is used by SectionManager, where matching is
// explicitly case-insensitive (§4.5), unlike DirectoryAccessEvaluator which
// matches on normalized (case-preserved) paths.
func caseInsensitiveHasPrefix(target, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if len(target) < len(prefix) {
		return false
	}
	if !strings.EqualFold(target[:len(prefix)], prefix) {
		return false
	}
	return len(target) == len(prefix) || target[len(prefix)] == '/'
}
