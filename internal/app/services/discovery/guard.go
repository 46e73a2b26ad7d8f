package discovery

import (
	"strings"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
)

// NormalizeName is the comparison form used for duplicate detection:
// trimmed, lower-cased, inner whitespace collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Guard is a set of normalized names.
type Guard map[string]struct{}

// NewGuard builds a guard over existing repository names.
func NewGuard(existing []string) Guard {
	g := make(Guard, len(existing))
	for _, name := range existing {
		if n := NormalizeName(name); n != "" {
			g[n] = struct{}{}
		}
	}
	return g
}

// Contains reports whether name is already known.
func (g Guard) Contains(name string) bool {
	_, ok := g[NormalizeName(name)]
	return ok
}

// Add records name and reports whether it was new.
func (g Guard) Add(name string) bool {
	n := NormalizeName(name)
	if n == "" {
		return false
	}
	if _, ok := g[n]; ok {
		return false
	}
	g[n] = struct{}{}
	return true
}

// IsDuplicate reports whether name matches any existing name.
func IsDuplicate(name string, existing []string) bool {
	target := NormalizeName(name)
	if target == "" {
		return false
	}
	for _, e := range existing {
		if NormalizeName(e) == target {
			return true
		}
	}
	return false
}

// ExclusionList returns the existing names deduplicated by normalized form,
// keeping the first spelling, for the suggestion source's exclude list.
func ExclusionList(existing []string) []string {
	seen := make(Guard, len(existing))
	out := make([]string, 0, len(existing))
	for _, name := range existing {
		if seen.Add(name) {
			out = append(out, strings.TrimSpace(name))
		}
	}
	return out
}

// FilterCandidates drops blank candidates, candidates already in the
// repository and repeats of an earlier candidate. Order is preserved.
func FilterCandidates(candidates []domain.RawCandidate, existing []string) []domain.RawCandidate {
	known := NewGuard(existing)
	out := make([]domain.RawCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" || known.Contains(c.Name) {
			continue
		}
		known.Add(c.Name)
		c.Category = strings.TrimSpace(c.Category)
		c.Rationale = strings.TrimSpace(c.Rationale)
		out = append(out, c)
	}
	return out
}
