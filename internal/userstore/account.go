// Package userstore implements the daemon's durable account database: an
// AES-GCM encrypted, LZ4-compressed snapshot layered under an append-only
// write-ahead log, plus the in-memory Account CRUD surface the rest of the
// daemon authenticates and authorizes against.
package userstore

import "strings"

// IdentRequirement controls per-account RFC 1413 ident enforcement.
type IdentRequirement struct {
	RequireMatch  bool
	RequiredIdent string
}

// Flags holds the administrative booleans that gate protocol behavior.
type Flags struct {
	Admin         bool
	Siteop        bool
	AllowFXP      bool
	AllowUpload   bool
	AllowDownload bool
	AllowActive   bool
}

// Account is an immutable user record. Mutations go through WithX builder
// methods that return a new value; callers persist the result via Store.
type Account struct {
	Name            string
	PasswordHash    string
	Home            string
	Flags           Flags
	PrimaryGroup    string
	SecondaryGroups []string
	MaxConcurrent   uint32
	IdleTimeoutSec  int64
	MaxUploadKBps   int64
	MaxDownloadKBps int64
	CreditsKB       int64
	AllowedIPMask   string
	Ident           IdentRequirement
	RawFlags        string
	Disabled        bool
}

// NameKey returns the case-folded lookup key for the account's username.
func (a Account) NameKey() string { return strings.ToLower(a.Name) }

// WithCredits returns a copy of the account with credits replaced, clamped
// to zero (§3 invariant: credits never go negative).
func (a Account) WithCredits(kb int64) Account {
	if kb < 0 {
		kb = 0
	}
	next := a
	next.CreditsKB = kb
	return next
}

// ChargeCredits subtracts cost KB, saturating at zero, and returns the
// updated account plus the amount actually charged.
func (a Account) ChargeCredits(cost int64) (Account, int64) {
	if cost <= 0 {
		return a, 0
	}
	charged := cost
	remaining := a.CreditsKB - cost
	if remaining < 0 {
		charged = a.CreditsKB
		remaining = 0
	}
	return a.WithCredits(remaining), charged
}

// EarnCredits adds earned KB to the account's balance.
func (a Account) EarnCredits(earned int64) Account {
	if earned <= 0 {
		return a
	}
	return a.WithCredits(a.CreditsKB + earned)
}

// InGroup reports whether name matches the account's primary or any
// secondary group, case-insensitively.
func (a Account) InGroup(name string) bool {
	if strings.EqualFold(a.PrimaryGroup, name) {
		return true
	}
	for _, g := range a.SecondaryGroups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}
