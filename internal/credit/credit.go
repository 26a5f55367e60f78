// Package credit implements ratio-based download charging and upload
// crediting against section ratios, free-leech zones and rule-script hooks
// (§4.6).
package credit

import (
	"errors"
	"math"

	"github.com/amftpd/amftpd/internal/policy"
	"github.com/amftpd/amftpd/internal/rulescript"
)

// ErrDenied is returned when a rule script denies the transfer outright.
var ErrDenied = errors.New("credit: denied by rule")

// ErrInsufficientCredits is returned when the account cannot cover the cost.
var ErrInsufficientCredits = errors.New("credit: insufficient credits")

// Charge is the outcome of evaluating a download/upload against an account.
type Charge struct {
	CostKB   int64 // charged on RETR
	EarnedKB int64 // credited on STOR/APPE
	Reason   string
}

// Engine applies section ratios and an optional rule-script host to compute
// download cost / upload earnings (C6).
type Engine struct {
	Host rulescript.Host // nil is treated as rulescript.NullHost{}
}

func (e *Engine) host() rulescript.Host {
	if e.Host == nil {
		return rulescript.NullHost{}
	}
	return e.Host
}

// EvaluateDownload computes the charge for retrieving byteCount bytes of
// virtPath in section from account user/group, per §4.6 steps 1-5.
func (e *Engine) EvaluateDownload(section policy.Section, byteCount int64, user, group, virtPath, physPath string) (Charge, error) {
	kb := byteCount / 1024
	if kb == 0 {
		return Charge{}, nil
	}

	if section.FreeLeech {
		return Charge{CostKB: 0}, nil
	}

	cost := RatioKB(kb, section.Ratio)

	ctx := rulescript.Context{
		Section: section.Name, FreeLeech: section.FreeLeech,
		User: user, Group: group, Bytes: byteCount, KB: kb, Cost: cost,
		VirtualPath: virtPath, PhysicalPath: physPath, Event: rulescript.EventRETR,
	}
	result, err := e.host().EvaluateDownload(ctx)
	if err != nil {
		return Charge{}, err
	}
	if result.Action == rulescript.Deny {
		reason := result.DenyReason
		if reason == "" {
			reason = "download denied by policy"
		}
		return Charge{Reason: reason}, ErrDenied
	}
	if result.CostDownload != nil {
		cost = *result.CostDownload
	}

	return Charge{CostKB: cost}, nil
}

// EvaluateUpload computes the earnings for storing byteCount bytes, per
// §4.6: "uploads are always at least 1:1 for counted bytes" under free-leech.
func (e *Engine) EvaluateUpload(section policy.Section, byteCount int64, user, group, virtPath, physPath string) (Charge, error) {
	kb := byteCount / 1024
	if kb == 0 {
		return Charge{}, nil
	}

	var earned int64
	if section.FreeLeech {
		earned = kb
	} else {
		earned = RatioKB(kb, section.Ratio)
	}

	ctx := rulescript.Context{
		Section: section.Name, FreeLeech: section.FreeLeech,
		User: user, Group: group, Bytes: byteCount, KB: kb, Earned: earned,
		VirtualPath: virtPath, PhysicalPath: physPath, Event: rulescript.EventSTOR,
	}
	result, err := e.host().EvaluateUpload(ctx)
	if err != nil {
		return Charge{}, err
	}
	if result.Action == rulescript.Deny {
		reason := result.DenyReason
		if reason == "" {
			reason = "upload denied by policy"
		}
		return Charge{Reason: reason}, ErrDenied
	}
	if result.EarnedUpload != nil {
		earned = *result.EarnedUpload
	}

	return Charge{EarnedKB: earned}, nil
}

// CheckSufficient returns ErrInsufficientCredits if balanceKB cannot cover
// costKB (§4.6 step 5).
func CheckSufficient(balanceKB, costKB int64) error {
	if balanceKB < costKB {
		return ErrInsufficientCredits
	}
	return nil
}

// RatioKB converts kb of raw transfer into section-ratio-adjusted KB:
// kb * ratio.DownloadUnit/ratio.UploadUnit, away-from-zero rounded. Used for
// both download cost and upload earnings, and for nuke-penalty bases so a
// nuked user's forfeited credit matches what they'd have earned on upload.
func RatioKB(kb int64, ratio policy.Ratio) int64 {
	return roundAwayFromZero(float64(kb) * float64(ratio.DownloadUnit) / float64(ratio.UploadUnit))
}

// NukePenalty computes the credit penalty for a nuked release, per the SITE
// NUKE semantics in §4.13: round(earned_kb * nuke_multiplier), away-from-zero
// (the spec's Open Question resolves this the same way as ratio math).
func NukePenalty(earnedKB int64, multiplier float64) int64 {
	return roundAwayFromZero(float64(earnedKB) * multiplier)
}

// roundAwayFromZero implements the spec's chosen rounding mode for ratio and
// nuke-penalty math (§9 Open Question: away-from-zero, not banker's).
func roundAwayFromZero(v float64) int64 {
	if v >= 0 {
		return int64(math.Floor(v + 0.5))
	}
	return int64(math.Ceil(v - 0.5))
}
