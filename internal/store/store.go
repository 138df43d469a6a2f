// Package store defines the persistence contract for score records. Backends
// live in subpackages; callers depend on the interface only.
package store

import (
	"context"

	"github.com/score-keeper/internal/domain"
)

// Store is the narrow persistence interface behind the score service.
//
// Submit must be atomic with respect to concurrent submissions for the same
// user key: the stored best equals the maximum of all observed candidates
// regardless of arrival order. TopN returns records ordered by best score
// descending, ties broken by earliest creation, and never materializes more
// than limit rows.
type Store interface {
	// GetBest returns the stored best score, or 0 when no record exists.
	// Absence is a valid zero state, not an error.
	GetBest(ctx context.Context, userKey string) (int64, error)

	// Submit creates the record or raises its best score to the candidate,
	// refreshing the display name unconditionally.
	Submit(ctx context.Context, userKey, displayName string, score int64) (domain.SubmitResult, error)

	// TopN returns up to limit records, best first.
	TopN(ctx context.Context, limit int) ([]domain.ScoreRecord, error)

	// ReferralCode returns the player's referral code, lazily generating and
	// persisting a unique one (and the record itself) on first request.
	ReferralCode(ctx context.Context, userKey string) (string, error)

	// RegisterReferral records that userKey was invited by the owner of code.
	// Returns ErrReferralNotFound, ErrSelfReferral or ErrAlreadyReferred.
	RegisterReferral(ctx context.Context, userKey, code string) error

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// All returns every record ordered like TopN, for mirror rebuilds.
	All(ctx context.Context) ([]domain.ScoreRecord, error)

	// Reset wipes all records. Administrative use only.
	Reset(ctx context.Context) error

	Close()
}
