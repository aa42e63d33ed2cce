package dlp

import (
	"fmt"
	"regexp"
	"sync"
)

// Registry is an immutable catalog of compiled detection rules, one per PII
// type. It is safe for concurrent use by any number of redaction sessions.
type Registry struct {
	rules []compiledRule
	index map[PIIType]int
}

// DefaultRules returns the builtin rule set for all supported PII types.
func DefaultRules() []Rule {
	return []Rule{
		{Type: PIITypeAadhaar, Pattern: `\b(?:(\d{4}\s\d{4}\s\d{4})|(\d{12}))\b`, Strategy: StrategyMask},
		{Type: PIITypePAN, Pattern: `\b([A-Z]{5}[0-9]{4}[A-Z])\b`, Strategy: StrategyTokenize},
		{Type: PIITypeCreditCard, Pattern: `\b(?:\d[ -]*?){13,19}\b`, Strategy: StrategyMask},
		{Type: PIITypeEmail, Pattern: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, Strategy: StrategyPartial},
		{Type: PIITypePhone, Pattern: `\b(?:\+91[-\s]?)?(?:[6-9]\d{9}|[6-9]\d{2}[-\s]\d{3}[-\s]\d{4})\b`, Strategy: StrategyMask},
		{Type: PIITypeIFSC, Pattern: `\b([A-Z]{4}0[A-Z0-9]{6})\b`, Strategy: StrategyTokenize},
		{Type: PIITypeBankAccount, Pattern: `\b\d{9,18}\b`, Strategy: StrategyTokenize},
		{Type: PIITypeVoterID, Pattern: `\b([A-Z]{3}\d{7})\b`, Strategy: StrategyMask},
		{Type: PIITypeDrivingLicense, Pattern: `\b([A-Z]{2}\d{2}/\d{6}/\d{4})\b`, Strategy: StrategyMask},
		{Type: PIITypeIPAddress, Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Strategy: StrategyMask},
		{Type: PIITypeDOB, Pattern: `\b(\d{2}/\d{2}/\d{4})\b`, Strategy: StrategyMask},
		{Type: PIITypeMedicalID, Pattern: `\b(MED[A-Z0-9]{8})\b`, Strategy: StrategyTokenize},
	}
}

// NewRegistry compiles the supplied rules. Each type may appear at most once
// and must be one of the supported PII types.
func NewRegistry(rules []Rule) (*Registry, error) {
	r := &Registry{
		rules: make([]compiledRule, 0, len(rules)),
		index: make(map[PIIType]int, len(rules)),
	}

	for _, rule := range rules {
		kind, err := ParsePIIType(string(rule.Type))
		if err != nil {
			return nil, err
		}
		if _, dup := r.index[kind]; dup {
			return nil, fmt.Errorf("dlp: duplicate rule for %s", kind)
		}
		if rule.Pattern == "" {
			return nil, fmt.Errorf("dlp: pattern is required for rule %s", kind)
		}
		strategy := rule.Strategy
		if strategy == "" {
			strategy = StrategyMask
		}
		if !isValidStrategy(strategy) {
			return nil, fmt.Errorf("dlp: unsupported strategy %q for rule %s", strategy, kind)
		}
		expr, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("dlp: invalid pattern for rule %s: %w", kind, err)
		}

		r.index[kind] = len(r.rules)
		r.rules = append(r.rules, compiledRule{
			kind:     kind,
			expr:     expr,
			strategy: strategy,
			order:    typeOrder(kind),
		})
	}

	return r, nil
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry compiled from DefaultRules.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistry(DefaultRules())
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// WithTypes returns a registry restricted to the given types. An empty list
// returns the receiver unchanged.
func (r *Registry) WithTypes(types ...PIIType) (*Registry, error) {
	if len(types) == 0 {
		return r, nil
	}

	out := &Registry{index: make(map[PIIType]int, len(types))}
	for _, t := range types {
		i, ok := r.index[t]
		if !ok {
			return nil, fmt.Errorf("dlp: registry has no rule for %q", t)
		}
		if _, dup := out.index[t]; dup {
			continue
		}
		out.index[t] = len(out.rules)
		out.rules = append(out.rules, r.rules[i])
	}
	return out, nil
}

// Resolve retrieves the rule registered for a type.
func (r *Registry) Resolve(t PIIType) (Rule, bool) {
	i, ok := r.index[t]
	if !ok {
		return Rule{}, false
	}
	cr := r.rules[i]
	return Rule{Type: cr.kind, Pattern: cr.expr.String(), Strategy: cr.strategy}, true
}

// Types lists the registered types in registry order.
func (r *Registry) Types() []PIIType {
	out := make([]PIIType, 0, len(r.rules))
	for _, cr := range r.rules {
		out = append(out, cr.kind)
	}
	return out
}

// order ranks a type for tie-breaking; unknown types sort last.
func (r *Registry) order(t PIIType) int {
	if i, ok := r.index[t]; ok {
		return r.rules[i].order
	}
	return len(allTypes)
}

func typeOrder(t PIIType) int {
	for i, known := range allTypes {
		if known == t {
			return i
		}
	}
	return len(allTypes)
}
