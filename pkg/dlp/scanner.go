package dlp

import "sort"

// Scanner runs every rule of a registry over a field and scores the matches.
type Scanner struct {
	registry *Registry
}

// NewScanner creates a scanner over reg. A nil registry selects DefaultRegistry.
func NewScanner(reg *Registry) *Scanner {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Scanner{registry: reg}
}

// Candidates returns every raw match of every rule, in registry order and
// then by position. Overlapping spans of different types are all kept.
func (s *Scanner) Candidates(text string) []Candidate {
	var out []Candidate
	for _, rule := range s.registry.rules {
		for _, loc := range rule.expr.FindAllStringIndex(text, -1) {
			out = append(out, Candidate{
				Type:  rule.kind,
				Value: text[loc[0]:loc[1]],
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return out
}

// Find returns the matches whose confidence meets or exceeds threshold,
// sorted by start offset ascending.
func (s *Scanner) Find(text, context string, threshold float64) []Match {
	if text == "" {
		return nil
	}

	var matches []Match
	for _, c := range s.Candidates(text) {
		score := Score(c.Type, c.Value, context)
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Candidate: c, Confidence: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Start == matches[j].Start {
			return matches[i].End < matches[j].End
		}
		return matches[i].Start < matches[j].Start
	})
	return matches
}
