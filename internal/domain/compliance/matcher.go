package compliance

import (
	"sort"
	"strings"
)

// OffenseMatch is one catalogue entry matched against a narrative.
type OffenseMatch struct {
	Entry           OffenseCatalogEntry `json:"entry"`
	MatchedKeywords []string            `json:"matched_keywords"`
	// Relevance is matched distinct keywords over the entry's keyword count.
	Relevance float64 `json:"relevance"`
}

// Matcher scores narratives against a catalogue with transparent keyword
// relevance.  It is safe for concurrent use.
type Matcher struct {
	catalog  *Catalog
	minScore float64
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithRelevanceFloor drops matches whose relevance is below floor.  Entries
// with no matched keyword are always dropped.
func WithRelevanceFloor(floor float64) MatcherOption {
	return func(m *Matcher) { m.minScore = floor }
}

// NewMatcher builds a Matcher over catalog.
func NewMatcher(catalog *Catalog, opts ...MatcherOption) *Matcher {
	m := &Matcher{catalog: catalog}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Catalog returns the matcher's catalogue.
func (m *Matcher) Catalog() *Catalog { return m.catalog }

// Match returns the entries whose keywords occur in narrative, sorted by
// relevance, then base risk level (critical first), then id.
func (m *Matcher) Match(narrative string) []OffenseMatch {
	text := Fold(narrative)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []OffenseMatch
	for _, ce := range m.catalog.entries {
		var hits []string
		for _, kw := range ce.folded {
			if strings.Contains(text, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		rel := float64(len(hits)) / float64(len(ce.folded))
		if rel < m.minScore {
			continue
		}
		out = append(out, OffenseMatch{
			Entry:           copyEntry(ce.entry),
			MatchedKeywords: hits,
			Relevance:       rel,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if ra, rb := a.Entry.BaseRiskLevel.Rank(), b.Entry.BaseRiskLevel.Rank(); ra != rb {
			return ra > rb
		}
		return a.Entry.ID < b.Entry.ID
	})
	return out
}

// HighestBaseLevel returns the most severe base level among matches, or ""
// when there are none.
func HighestBaseLevel(matches []OffenseMatch) Severity {
	var best Severity
	for _, m := range matches {
		best = MaxSeverity(best, m.Entry.BaseRiskLevel)
	}
	return best
}

// HasCritical reports whether any match has a critical base level.
func HasCritical(matches []OffenseMatch) bool {
	for _, m := range matches {
		if m.Entry.BaseRiskLevel == SeverityCritical {
			return true
		}
	}
	return false
}
