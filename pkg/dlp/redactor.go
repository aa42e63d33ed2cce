package dlp

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultThreshold is the confidence threshold used when a caller supplies none.
// It sits above the keyword-free bank account score, so a bare 10-digit phone
// number is not also tokenized as an account.
const DefaultThreshold = 0.7

// ErrInvalidThreshold is returned for thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("dlp: confidence threshold must be within [0,1]")

// ValidateThreshold checks a confidence threshold supplied by a caller.
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	return nil
}

// Redactor rewrites field text in place of the PII it contains.
// It holds no per-run state and may be shared.
type Redactor struct {
	scanner *Scanner
}

// NewRedactor creates a redactor backed by reg. A nil registry selects
// DefaultRegistry.
func NewRedactor(reg *Registry) *Redactor {
	return &Redactor{scanner: NewScanner(reg)}
}

// Redact masks every match in field scoring at least threshold.
//
// Replacements are applied from the highest start offset down so that the
// offsets of matches not yet applied stay valid. Matches sharing a start are
// applied narrowest first, then in registry order, so the widest one is the
// visible replacement. The detections returned are in the reverse of
// application order and carry offsets into the unmodified field. RowIndex and
// Column are left for the caller to fill.
func (r *Redactor) Redact(field, context string, threshold float64) (string, []Detection) {
	matches := r.scanner.Find(field, context, threshold)
	if len(matches) == 0 {
		return field, nil
	}

	order := r.scanner.registry.order
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Start != b.Start {
			return a.Start > b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return order(a.Type) < order(b.Type)
	})

	snippet := TruncateContext(context)
	working := field
	detections := make([]Detection, len(matches))
	for i, m := range matches {
		masked := Mask(m.Type, m.Value)
		detections[len(matches)-1-i] = Detection{
			Type:       m.Type,
			Value:      m.Value,
			Masked:     masked,
			Start:      m.Start,
			End:        m.End,
			Confidence: m.Confidence,
			Context:    snippet,
		}
		working = splice(working, m.Start, m.End, masked)
	}

	return working, detections
}

// splice replaces s[start:end] with repl. end is clamped to len(s) since an
// overlapping splice may already have shortened the working copy.
func splice(s string, start, end int, repl string) string {
	if start > len(s) {
		start = len(s)
	}
	if end > len(s) {
		end = len(s)
	}
	if end < start {
		end = start
	}
	return s[:start] + repl + s[end:]
}

// TruncateContext keeps the first ContextLimit runes of context.
func TruncateContext(context string) string {
	n := 0
	for i := range context {
		if n == ContextLimit {
			return context[:i]
		}
		n++
	}
	return context
}
