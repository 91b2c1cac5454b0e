// Package nonce provides replay protection for payment authorizations.
// Eviction bounds memory, not security: the token contract independently
// rejects nonce reuse at settlement time, so losing tracker state only
// slows down pre-settlement duplicate rejection.
package nonce

import "context"

// Tracker records used nonces. Implementations must normalize input
// nonces to the canonical lowercase hex key so that equivalent forms
// ("123", "0x7b") collide, and MarkUsed must be an atomic check-and-set.
type Tracker interface {
	// IsUsed reports whether the nonce has been marked used and not yet evicted.
	IsUsed(ctx context.Context, nonce string) (bool, error)
	// MarkUsed marks the nonce used, failing with a NonceAlreadyUsedError
	// if a live record exists.
	MarkUsed(ctx context.Context, nonce string) error
	// Cleanup purges records past their expiry.
	Cleanup(ctx context.Context) error
	// Size returns the number of live records.
	Size(ctx context.Context) (int, error)
	// Clear drops all records.
	Clear(ctx context.Context) error
	// Close releases any background resources.
	Close() error
}
