package identifiers

import (
	"strconv"
	"strings"
)

// Kind tags how a candidate should be matched against the tenant table.
type Kind string

const (
	KindID   Kind = "id"
	KindSlug Kind = "slug"
)

// Candidate is one tenant identifier extracted from broker metadata.
// Path records the rule that produced it, for diagnostics only.
type Candidate struct {
	Value string `json:"value"`
	Kind  Kind   `json:"kind"`
	Path  string `json:"path"`
}

// Rule maps a known metadata field path to an identifier kind. Paths are at
// most one nested object deep beyond the `context` wrapper; the broker
// controls the payload shape, so nothing here recurses blindly.
type Rule struct {
	Path []string
	Kind Kind
}

// DefaultRules is the fixed, ordered extraction table. Flat fields first,
// then the nested `tenant` and `context.tenant` objects. Order matters:
// earlier rules win when the same value appears under several names.
var DefaultRules = []Rule{
	{Path: []string{"tenantId"}, Kind: KindID},
	{Path: []string{"tenant_id"}, Kind: KindID},
	{Path: []string{"companyId"}, Kind: KindID},
	{Path: []string{"company_id"}, Kind: KindID},
	{Path: []string{"tenantSlug"}, Kind: KindSlug},
	{Path: []string{"tenant_slug"}, Kind: KindSlug},
	{Path: []string{"slug"}, Kind: KindSlug},
	{Path: []string{"tenant", "id"}, Kind: KindID},
	{Path: []string{"tenant", "slug"}, Kind: KindSlug},
	{Path: []string{"context", "tenant", "id"}, Kind: KindID},
	{Path: []string{"context", "tenant", "slug"}, Kind: KindSlug},
}

// ResolveTenantCandidates applies DefaultRules in order over the metadata
// blob and returns a de-duplicated, order-preserving candidate list. An
// empty result means "cannot provision" and is never an error: most broker
// pings legitimately carry no tenant hint.
func ResolveTenantCandidates(metadata map[string]any) []Candidate {
	return Resolve(metadata, DefaultRules)
}

// Resolve runs an explicit rule table. Exposed so tests can exercise
// individual rules without the full default set.
func Resolve(metadata map[string]any, rules []Rule) []Candidate {
	if len(metadata) == 0 {
		return nil
	}

	var out []Candidate
	seen := make(map[string]struct{})

	for _, rule := range rules {
		raw, ok := lookupPath(metadata, rule.Path)
		if !ok {
			continue
		}
		value := normalizeValue(raw)
		if value == "" {
			continue
		}
		dedupKey := string(rule.Kind) + ":" + value
		if _, dup := seen[dedupKey]; dup {
			continue
		}
		seen[dedupKey] = struct{}{}
		out = append(out, Candidate{
			Value: value,
			Kind:  rule.Kind,
			Path:  strings.Join(rule.Path, "."),
		})
	}

	return out
}

// Values flattens candidates to their raw values, preserving order. Handy
// for log fields.
func Values(candidates []Candidate) []string {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Value)
	}
	return out
}

func lookupPath(m map[string]any, path []string) (any, bool) {
	cur := any(m)
	for _, field := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[field]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalizeValue accepts the value shapes JSON decoding can produce for an
// identifier. Anything else (objects, arrays, bools) is ignored.
func normalizeValue(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// JSON numbers decode as float64; broker-side tenant ids are
		// integral when numeric.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return ""
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
