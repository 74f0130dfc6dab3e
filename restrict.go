package recallx

import (
	"slices"

	"github.com/cockroachdb/errors"
)

// Restrict is a namespaced token filter. On a corpus item it lists the tokens
// the item carries (Allow) and the tokens that exclude it (Deny). On a query
// it narrows the candidates to items carrying one of the Allow tokens and none
// of the Deny tokens in that namespace.
// Restrict is also a SearchOption, so it can be passed straight to Search.
type Restrict struct {
	// Namespace groups related tokens, e.g. "color" or "class".
	Namespace string `json:"namespace" dynamodbav:"namespace"`
	// Allow lists the allowed tokens.
	Allow []string `json:"allow,omitempty" dynamodbav:"allow,omitempty"`
	// Deny lists the denied tokens.
	Deny []string `json:"deny,omitempty" dynamodbav:"deny,omitempty"`
}

// Apply implements the SearchOption interface for Restrict.
func (r Restrict) Apply(cfg *SearchConfig) {
	cfg.Restricts = append(cfg.Restricts, r)
}

// Allow creates a restrict admitting items tagged with any of tokens in namespace.
func Allow(namespace string, tokens ...string) Restrict {
	return Restrict{Namespace: namespace, Allow: tokens}
}

// Deny creates a restrict excluding items tagged with any of tokens in namespace.
func Deny(namespace string, tokens ...string) Restrict {
	return Restrict{Namespace: namespace, Deny: tokens}
}

// Validate reports a malformed restrict.
func (r Restrict) Validate() error {
	if r.Namespace == "" {
		return errors.Wrap(ErrInvalidRestrict, "namespace is empty")
	}
	if len(r.Allow) == 0 && len(r.Deny) == 0 {
		return errors.Wrapf(ErrInvalidRestrict, "namespace %q has no tokens", r.Namespace)
	}
	if slices.Contains(r.Allow, "") || slices.Contains(r.Deny, "") {
		return errors.Wrapf(ErrInvalidRestrict, "namespace %q has an empty token", r.Namespace)
	}
	return nil
}

// MatchRestricts reports whether an item tagged with itemRestricts passes
// every query restrict.
//
// For each query restrict: if it has Allow tokens, the item must carry the
// namespace, hold at least one of those tokens and deny none of them. If it
// has Deny tokens, the item must hold none of them.
func MatchRestricts(itemRestricts []Restrict, query []Restrict) bool {
	for _, q := range query {
		item, ok := findNamespace(itemRestricts, q.Namespace)

		if len(q.Allow) > 0 {
			if !ok || !intersects(item.Allow, q.Allow) || intersects(item.Deny, q.Allow) {
				return false
			}
		}

		if len(q.Deny) > 0 && ok && intersects(item.Allow, q.Deny) {
			return false
		}
	}
	return true
}

func findNamespace(restricts []Restrict, namespace string) (Restrict, bool) {
	var (
		merged Restrict
		found  bool
	)
	for _, r := range restricts {
		if r.Namespace != namespace {
			continue
		}
		found = true
		merged.Namespace = namespace
		merged.Allow = append(merged.Allow, r.Allow...)
		merged.Deny = append(merged.Deny, r.Deny...)
	}
	return merged, found
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
