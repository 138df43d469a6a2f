package domain

import "errors"

// Domain errors
var (
	ErrInvalidInput       = errors.New("invalid score submission")
	ErrInvalidSignature   = errors.New("request signature mismatch")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrReferralNotFound   = errors.New("referral code not found")
	ErrAlreadyReferred    = errors.New("user already referred")
	ErrSelfReferral       = errors.New("cannot use own referral code")
	ErrStorageUnavailable = errors.New("score store unavailable")
	ErrCorruptState       = errors.New("score store state is corrupt")
)

// IsClientError reports whether an error is caused by the request rather
// than the service or its storage.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrReferralNotFound)
}

// IsStorageError reports whether an error is an infrastructure fault in the
// score store.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrCorruptState)
}
