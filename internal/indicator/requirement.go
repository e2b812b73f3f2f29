package indicator

import (
	"fmt"
	"sort"
)

// Requirement names one indicator at one parameter set, e.g. {Name: "rsi",
// Params: map[string]int{"period": 14}}. ParamOrder fixes the order params
// are rendered into the column signature (e.g. fast, slow, signal for
// MACD); params not listed in ParamOrder fall back to sorted-key order
// appended after it.
type Requirement struct {
	Name       string
	Params     map[string]int
	ParamOrder []string
}

// ColumnName returns the canonical column name {name}_{param_signature}
// (spec.md §4.3), e.g. "rsi_14" or "macd_12_26_9".
func (r Requirement) ColumnName() string {
	if len(r.Params) == 0 {
		return r.Name
	}
	seen := make(map[string]bool, len(r.Params))
	keys := make([]string, 0, len(r.Params))
	for _, k := range r.ParamOrder {
		if _, ok := r.Params[k]; ok && !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(r.Params))
	for k := range r.Params {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	name := r.Name
	for _, k := range keys {
		name += fmt.Sprintf("_%d", r.Params[k])
	}
	return name
}

// Resolver deduplicates indicator requirements across the active strategy,
// its dynamic-selector candidates, and the regime classifier, so the
// engine computes each one exactly once per iteration (spec.md §4.3).
type Resolver struct {
	required map[string]Requirement // keyed by ColumnName
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{required: make(map[string]Requirement)}
}

// Add registers a requirement. Re-adding the same column name with
// identical params is a no-op; adding it with different params is a
// programmer error and panics, since the engine refuses to let one column
// name mean two different things.
func (r *Resolver) Add(req Requirement) {
	key := req.ColumnName()
	if existing, ok := r.required[key]; ok {
		if !sameParams(existing.Params, req.Params) {
			panic(fmt.Sprintf("indicator: column %q requested with conflicting params", key))
		}
		return
	}
	r.required[key] = req
}

func sameParams(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Requirements returns the deduplicated requirement set, sorted by column
// name for deterministic iteration order.
func (r *Resolver) Requirements() []Requirement {
	out := make([]Requirement, 0, len(r.required))
	for _, req := range r.required {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ColumnName() < out[j].ColumnName() })
	return out
}

// Aliases maps the spec's friendly names to the canonical column computed
// from an indicator's default/primary parameterization, so strategies can
// read e.g. "rsi" without knowing the exact period in play.
func Aliases(req Requirement) []string {
	switch req.Name {
	case "rsi":
		return []string{"rsi"}
	case "atr":
		return []string{"atr"}
	case "adx":
		return []string{"adx"}
	default:
		return nil
	}
}
