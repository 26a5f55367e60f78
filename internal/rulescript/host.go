// Package rulescript defines the opaque policy-evaluation interface that
// credit, upload, user and group decisions are routed through. The engine
// implementation (interpreter, embedded VM, or built-in JSON-rule matcher)
// lives behind Host; this package only fixes the context/result contract.
package rulescript

// Action is the verdict a rule evaluation returns.
type Action int

const (
	Allow Action = iota
	Deny
)

// Special message tokens recognized by the router as protocol-level signals
// rather than plain text (§4.9).
const (
	SiteOverride          = "SITE_OVERRIDE"
	SectionOverridePrefix = "SECTION_OVERRIDE::"
)

// Event names passed in Context.Event.
const (
	EventRETR = "RETR"
	EventSTOR = "STOR"
	EventAPPE = "APPE"
)

// Context is the structured, side-effect-free input to every evaluation
// entry point (§4.9).
type Context struct {
	IsFXP        bool
	Section      string
	FreeLeech    bool
	User         string
	Group        string
	Bytes        int64
	KB           int64
	Cost         int64
	Earned       int64
	VirtualPath  string
	PhysicalPath string
	Event        string
}

// Result is what a rule evaluation returns. A zero Result behaves as Allow
// with no side effects.
type Result struct {
	Action           Action
	DenyReason       string
	Message          string
	NewUploadLimit   *int64
	NewDownloadLimit *int64
	CreditDelta      *int64
	CostDownload     *int64
	EarnedUpload     *int64
	SiteOutput       string
}

// IsSiteOverride reports whether Message carries the SITE_OVERRIDE signal.
func (r Result) IsSiteOverride() bool {
	return r.Message == SiteOverride
}

// SectionOverride returns the overriding section name and true if Message
// carries a SECTION_OVERRIDE::<NAME> signal.
func (r Result) SectionOverride() (string, bool) {
	const prefix = SectionOverridePrefix
	if len(r.Message) > len(prefix) && r.Message[:len(prefix)] == prefix {
		return r.Message[len(prefix):], true
	}
	return "", false
}

// Host is the pluggable rule engine contract. Any scripting runtime, or a
// built-in rule interpreter, can implement it; callers never depend on a
// concrete engine.
type Host interface {
	EvaluateDownload(ctx Context) (Result, error)
	EvaluateUpload(ctx Context) (Result, error)
	EvaluateUser(ctx Context) (Result, error)
	EvaluateGroup(ctx Context) (Result, error)
}

// NullHost always allows with no side effects, used where no rule engine is
// configured.
type NullHost struct{}

func (NullHost) EvaluateDownload(Context) (Result, error) { return Result{Action: Allow}, nil }
func (NullHost) EvaluateUpload(Context) (Result, error)   { return Result{Action: Allow}, nil }
func (NullHost) EvaluateUser(Context) (Result, error)     { return Result{Action: Allow}, nil }
func (NullHost) EvaluateGroup(Context) (Result, error)    { return Result{Action: Allow}, nil }

var _ Host = NullHost{}
