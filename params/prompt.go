package params

import (
	"fmt"
	"regexp"
	"strings"

	oauth "github.com/oauthware/oauth-server"
)

var promptName = regexp.MustCompile(`^(none|login|consent|select_account)$`)

// SplitPrompts splits a space-delimited prompt value into an ordered,
// de-duplicated, validated slice. A 'none' prompt combined with any other
// value is rejected per OpenID Connect Core section 3.1.2.1.
func SplitPrompts(value string) ([]string, error) {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, name := range fields {
		if !promptName.MatchString(name) {
			return nil, oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid prompt (OpenID Connect Core section 3.1.2.1)", name))
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if len(out) > 1 && seen["none"] {
		return nil, oauth.ErrInvalidRequest("the 'none' prompt is exclusive")
	}
	return out, nil
}

// CanonicalPrompts validates and de-duplicates a merged prompt value.
func CanonicalPrompts(value string) (string, error) {
	prompts, err := SplitPrompts(value)
	if err != nil {
		return "", err
	}
	return strings.Join(prompts, " "), nil
}

// PromptSet is an ordered view over the prompt parameter.
type PromptSet struct {
	set *Set
}

// Prompts returns the live prompt view of a parameter set.
func Prompts(set *Set) *PromptSet {
	return &PromptSet{set: set}
}

// Values returns the prompt names in order.
func (s *PromptSet) Values() []string {
	prompts, _ := SplitPrompts(s.set.Get(Prompt))
	return prompts
}

// Contains reports membership of a prompt name.
func (s *PromptSet) Contains(name string) bool {
	for _, v := range s.Values() {
		if v == name {
			return true
		}
	}
	return false
}

// Len returns the number of distinct prompt names.
func (s *PromptSet) Len() int {
	return len(s.Values())
}
