// Package memory provides an in-memory implementation of the storage
// interfaces.
//
// This package implements TokenStore, AuthorizationCodeStore,
// ApplicationDirectory, and ConsentStore using Go's built-in maps with
// mutex protection for thread safety. It is suitable for development,
// testing, and single-instance deployments where persistence is not
// required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic single-use redemption of codes and refresh tokens
//   - Automatic cleanup of expired tokens and codes
//   - Configurable cleanup intervals
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv := server.New(store, store, store, store, logger)
package memory
