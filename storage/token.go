package storage

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores for unknown, expired, or already
// consumed values.
var ErrNotFound = errors.New("storage: not found")

// Additional-information keys the engine writes into codes and tokens.
const (
	// InfoNonce carries the OpenID Connect nonce from the authorization
	// request to id_token generation at code redemption.
	InfoNonce = "internalstorage.openid.nonce"

	// InfoAdditionalScopes records scopes that were requested but not
	// granted at issuance, as a JSON-encoded string array.
	InfoAdditionalScopes = "internalstorage.oauth2.additional.scopes"

	// InfoCodeChallenge and InfoCodeChallengeMethod carry PKCE material on
	// authorization codes.
	InfoCodeChallenge       = "code_challenge"
	InfoCodeChallengeMethod = "code_challenge_method"

	// InfoIssuedTokenType marks tokens minted by the token exchange grant.
	InfoIssuedTokenType = "issued_token_type"

	InfoResource = "resource"
	InfoAudience = "audience"
	InfoIDToken  = "id_token"
)

// internalKeys never leave the store. They are stripped from token
// responses and rejected as caller-supplied additional information.
var internalKeys = map[string]bool{
	InfoNonce:               true,
	InfoAdditionalScopes:    true,
	InfoCodeChallenge:       true,
	InfoCodeChallengeMethod: true,
	InfoIssuedTokenType:     true,
}

// reservedKeys may not be set by caller-supplied additional information but
// do appear in token responses when present. Superset of the internal keys.
var reservedKeys = map[string]bool{
	InfoNonce:               true,
	InfoAdditionalScopes:    true,
	InfoCodeChallenge:       true,
	InfoCodeChallengeMethod: true,
	InfoIssuedTokenType:     true,
	InfoResource:            true,
	InfoAudience:            true,
	InfoIDToken:             true,
}

// IsInternalInfo reports whether an additional-information key must never
// be exposed outside the store.
func IsInternalInfo(key string) bool {
	return internalKeys[key]
}

// IsReservedInfo reports whether an additional-information key is managed
// by the engine and may not be supplied by callers.
func IsReservedInfo(key string) bool {
	return reservedKeys[key]
}

// PublicInfo returns a copy of the additional information with the internal
// keys removed, or nil when nothing remains.
func PublicInfo(info map[string]string) map[string]string {
	var out map[string]string
	for k, v := range info {
		if internalKeys[k] {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

// MergeCallerInfo copies caller-supplied additional information into dst,
// silently discarding reserved keys. Returns dst, allocating it when needed.
func MergeCallerInfo(dst, supplied map[string]string) map[string]string {
	for k, v := range supplied {
		if reservedKeys[k] {
			continue
		}
		if dst == nil {
			dst = make(map[string]string)
		}
		dst[k] = v
	}
	return dst
}

// minTokenBytes is the floor on token entropy. Shorter configured lengths
// are clamped up rather than rejected.
const minTokenBytes = 8

// NewTokenValue generates an opaque token or code value from n random
// bytes, base64url encoded without padding. n is clamped to a minimum of 8.
func NewTokenValue(n int) (string, error) {
	if n < minTokenBytes {
		n = minTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
