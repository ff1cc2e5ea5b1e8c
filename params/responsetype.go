package params

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	oauth "github.com/oauthware/oauth-server"
)

var responseTypeName = regexp.MustCompile(`^[_0-9a-zA-Z]+$`)

// responseTypeOrder is the canonical ordering for composite response types:
// none < code < id_token < token. Unknown names sort first, which also makes
// them easy to reject after sorting.
var responseTypeOrder = []string{
	oauth.ResponseTypeNone,
	oauth.ResponseTypeCode,
	oauth.ResponseTypeIDToken,
	oauth.ResponseTypeToken,
}

func responseTypeIndex(name string) int {
	for i, v := range responseTypeOrder {
		if v == name {
			return i
		}
	}
	return -1
}

// SplitResponseTypes splits a space-delimited response_type value into an
// ordered, de-duplicated, validated slice in canonical order. Unsupported
// names and a non-exclusive 'none' are rejected.
func SplitResponseTypes(value string) ([]string, error) {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, name := range fields {
		if !responseTypeName.MatchString(name) {
			return nil, oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid response_type (RFC6749 appendix A.3)", name))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if responseTypeIndex(name) < 0 {
			return nil, oauth.ErrInvalidRequest("the response_type parameter contains unsupported values")
		}
		out = append(out, name)
	}
	if len(out) > 1 && seen[oauth.ResponseTypeNone] {
		return nil, oauth.ErrInvalidRequest("the 'none' response_type is exclusive")
	}
	sort.SliceStable(out, func(i, j int) bool {
		return responseTypeIndex(out[i]) < responseTypeIndex(out[j])
	})
	return out, nil
}

// CanonicalResponseTypes validates and sorts a merged response_type value.
func CanonicalResponseTypes(value string) (string, error) {
	types, err := SplitResponseTypes(value)
	if err != nil {
		return "", err
	}
	return strings.Join(types, " "), nil
}

// ResponseTypeSet is an ordered view over the response_type parameter.
type ResponseTypeSet struct {
	set *Set
}

// ResponseTypes returns the live response_type view of a parameter set.
func ResponseTypes(set *Set) *ResponseTypeSet {
	return &ResponseTypeSet{set: set}
}

// Values returns the response type names in canonical order.
func (s *ResponseTypeSet) Values() []string {
	types, _ := SplitResponseTypes(s.set.Get(ResponseType))
	return types
}

// Contains reports membership of a response type name.
func (s *ResponseTypeSet) Contains(name string) bool {
	for _, v := range s.Values() {
		if v == name {
			return true
		}
	}
	return false
}

// Len returns the number of distinct response type names.
func (s *ResponseTypeSet) Len() int {
	return len(s.Values())
}

// String returns the canonical space-delimited form.
func (s *ResponseTypeSet) String() string {
	return s.set.Get(ResponseType)
}
