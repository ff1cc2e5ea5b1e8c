package params

import (
	"fmt"
	"regexp"
	"strings"

	oauth "github.com/oauthware/oauth-server"
)

// nqchar is the scope-token grammar from RFC6749 appendix A.4.
var nqchar = regexp.MustCompile(`^[\x21\x23-\x5b\x5d-\x7e]+$`)

// ValidScope checks a single scope token against the RFC6749 grammar.
func ValidScope(scope string) error {
	if scope == "" || !nqchar.MatchString(scope) {
		return oauth.ErrInvalidScope(fmt.Sprintf("'%s' is not a valid scope (RFC6749 appendix A.4)", scope))
	}
	return nil
}

// SplitScopes splits a space- or comma-delimited scope value into an
// ordered, de-duplicated slice, validating each token.
func SplitScopes(value string) ([]string, error) {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, scope := range fields {
		if err := ValidScope(scope); err != nil {
			return nil, err
		}
		if !seen[scope] {
			seen[scope] = true
			out = append(out, scope)
		}
	}
	return out, nil
}

// JoinScopes joins scope tokens into the canonical space-delimited form,
// dropping duplicates while preserving order.
func JoinScopes(scopes []string) string {
	seen := make(map[string]bool, len(scopes))
	parts := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		if scope == "" || seen[scope] {
			continue
		}
		seen[scope] = true
		parts = append(parts, scope)
	}
	return strings.Join(parts, " ")
}

// CanonicalScopes validates and de-duplicates a merged scope value.
func CanonicalScopes(value string) (string, error) {
	scopes, err := SplitScopes(value)
	if err != nil {
		return "", err
	}
	return JoinScopes(scopes), nil
}

// ScopeSet is an ordered, de-duplicated view over the parameter set's
// space-delimited scope value. Mutations write back to the underlying Set.
type ScopeSet struct {
	set *Set
}

// Scopes returns the live scope view of a parameter set.
func Scopes(set *Set) *ScopeSet {
	return &ScopeSet{set: set}
}

// Values returns the scope tokens in order. The stored value is canonical,
// so no validation failure is possible here.
func (s *ScopeSet) Values() []string {
	scopes, _ := SplitScopes(s.set.Get(Scope))
	return scopes
}

// Contains reports membership of a single scope token.
func (s *ScopeSet) Contains(scope string) bool {
	for _, v := range s.Values() {
		if v == scope {
			return true
		}
	}
	return false
}

// Len returns the number of distinct scope tokens.
func (s *ScopeSet) Len() int {
	return len(s.Values())
}

// Add appends a scope token, validating it first. Returns true if the token
// was not already present.
func (s *ScopeSet) Add(scope string) (bool, error) {
	if err := ValidScope(scope); err != nil {
		return false, err
	}
	if s.Contains(scope) {
		return false, nil
	}
	scopes := append(s.Values(), scope)
	s.set.Put(Scope, JoinScopes(scopes))
	return true, nil
}

// Remove drops a scope token. Returns true if it was present.
func (s *ScopeSet) Remove(scope string) bool {
	scopes := s.Values()
	out := scopes[:0]
	removed := false
	for _, v := range scopes {
		if v == scope {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if removed {
		s.set.Put(Scope, JoinScopes(out))
	}
	return removed
}

// Replace overwrites the whole scope value with the given tokens.
func (s *ScopeSet) Replace(scopes []string) {
	s.set.Put(Scope, JoinScopes(scopes))
}

// String returns the canonical space-delimited form.
func (s *ScopeSet) String() string {
	return s.set.Get(Scope)
}
