// Package credstore models the credential-verification collaborator spec.md
// §1 documents as an external, optional remote key-value store: out of the
// core engine's scope, reached through a small interface.
package credstore

import "context"

// Store verifies a username/password pair, optionally distinguishing a
// login attempt from a registration attempt (the original's isLogin flag).
type Store interface {
	Verify(ctx context.Context, username, password string, isLogin bool) bool
}

// MemStore is the always-succeeds stub the original documents as a TODO
// (_userVerify returns true unconditionally). It is the default collaborator
// when no external store is configured.
type MemStore struct{}

// Verify always reports success, matching the documented stub behavior.
func (MemStore) Verify(context.Context, string, string, bool) bool { return true }
