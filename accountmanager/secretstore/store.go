// Package secretstore declares the boundary to the secret-store
// collaborator: three operations on a single opaque string (spec.md §6).
// The manager owns exactly one entry. Implementations below (memory,
// mysqlstore, mongostore, rethinkstore, filestore) are reference
// backends for tests and the demo command, not the production keychain
// the embedding application would normally supply.
package secretstore

import "context"

// Store is the secret-store collaborator.
type Store interface {
	// Read returns the stored blob, or ("", false, nil) if nothing is stored.
	Read(ctx context.Context) (string, bool, error)
	// Write overwrites the stored blob.
	Write(ctx context.Context, blob string) error
	// Clear removes the stored blob.
	Clear(ctx context.Context) error
}
