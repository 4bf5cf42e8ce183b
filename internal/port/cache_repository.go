package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency claims key for owner, returns false if it is already claimed
	SetIdempotency(ctx context.Context, key, owner string) (bool, error)

	// ReleaseIdempotency frees key if owner still holds it, so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key, owner string) error
}
