package params

import (
	"fmt"
	"regexp"
	"strings"

	oauth "github.com/oauthware/oauth-server"
)

// languageTag is a loose BCP47 language tag check: a primary subtag with
// optional alphanumeric subtags.
var languageTag = regexp.MustCompile(`^[a-zA-Z]{2,8}(-[a-zA-Z0-9]{1,8})*$`)

// SplitLocales splits a space-delimited locale list into an ordered,
// de-duplicated, validated slice.
func SplitLocales(value string) ([]string, error) {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, tag := range fields {
		if !languageTag.MatchString(tag) {
			return nil, oauth.ErrInvalidRequest(fmt.Sprintf("'%s' is not a valid language tag (BCP47)", tag))
		}
		if !seen[tag] {
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out, nil
}

// CanonicalLocales validates and de-duplicates a merged locale list.
func CanonicalLocales(value string) (string, error) {
	locales, err := SplitLocales(value)
	if err != nil {
		return "", err
	}
	return strings.Join(locales, " "), nil
}
