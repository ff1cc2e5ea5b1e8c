// Package storage defines the persistence contracts for the authorization
// server: tokens, authorization codes, registered clients, and resource-owner
// consent.
//
//   - TokenStore: access and refresh tokens plus their bound authentications
//   - AuthorizationCodeStore: single-use authorization codes
//   - ApplicationDirectory: registered OAuth clients
//   - ConsentStore: remembered resource-owner scope grants
//
// The engine never holds a lock across two store calls. The only cross-store
// correctness requirement it imposes is atomicity of single-use redemption:
// RedeemAuthorizationCode and RedeemRefreshToken must behave as single
// atomic operations so two concurrent redemptions of the same value cannot
// both succeed.
//
// The memory subpackage provides the in-memory reference implementation.
package storage
