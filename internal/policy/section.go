package policy

import (
	"strings"
	"sync"

	"github.com/amftpd/amftpd/internal/pathutil"
)

// Section is a virtual-root-rooted accounting/policy zone (§3).
type Section struct {
	Name           string // canonical, upper-case
	Aliases        []string
	VirtualRoot    string
	FreeLeech      bool
	Ratio          Ratio
	NukeMultiplier float64 // 0 means "not configured"
}

// defaultSection is returned when no configured section matches a path.
var defaultSection = Section{
	Name:        "DEFAULT",
	VirtualRoot: "/",
	Ratio:       Ratio{UploadUnit: 1, DownloadUnit: 1},
}

// SectionManager resolves virtual paths to Sections and looks sections up by
// name or alias, for SITE SECTIONS and friends (C5).
type SectionManager struct {
	mu       sync.RWMutex
	byPrefix []Section // sorted by VirtualRoot length descending
	byKey    map[string]Section
}

// NewSectionManager builds a manager from a section list.
func NewSectionManager(sections []Section) *SectionManager {
	m := &SectionManager{}
	m.SetSections(sections)
	return m
}

// SetSections replaces the configured section set.
func (m *SectionManager) SetSections(sections []Section) {
	prefixed := make([]Section, len(sections))
	byKey := make(map[string]Section, len(sections)*2)
	for i, s := range sections {
		s.Name = strings.ToUpper(s.Name)
		s.VirtualRoot = pathutil.Normalize("/", s.VirtualRoot)
		prefixed[i] = s
		byKey[strings.ToLower(s.Name)] = s
		for _, alias := range s.Aliases {
			byKey[strings.ToLower(alias)] = s
		}
	}
	sortSectionsByRootLenDesc(prefixed)

	m.mu.Lock()
	m.byPrefix = prefixed
	m.byKey = byKey
	m.mu.Unlock()
}

// Resolve returns the section whose virtual root is the longest
// case-insensitive prefix of path, or the default (root) section.
func (m *SectionManager) Resolve(path string) Section {
	path = pathutil.Normalize("/", path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.byPrefix {
		if caseInsensitiveHasPrefix(path, s.VirtualRoot) {
			return s
		}
	}
	return defaultSection
}

// Lookup finds a section by name or alias (case-insensitive).
func (m *SectionManager) Lookup(nameOrAlias string) (Section, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byKey[strings.ToLower(nameOrAlias)]
	return s, ok
}

// All returns every configured section.
func (m *SectionManager) All() []Section {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Section, len(m.byPrefix))
	copy(out, m.byPrefix)
	return out
}

func sortSectionsByRootLenDesc(sections []Section) {
	for i := 1; i < len(sections); i++ {
		for j := i; j > 0 && len(sections[j].VirtualRoot) > len(sections[j-1].VirtualRoot); j-- {
			sections[j], sections[j-1] = sections[j-1], sections[j]
		}
	}
}
