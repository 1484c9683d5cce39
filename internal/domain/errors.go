package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrMissingAPIKey    = errors.New("model api key missing")
	ErrProviderFailure  = errors.New("provider failure")
	ErrNoImageReturned  = errors.New("no image returned")
	ErrInvalidOperation = errors.New("invalid operation")
)
