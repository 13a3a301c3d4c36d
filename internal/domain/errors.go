package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")

	// ErrMarketNotFound is returned when a job references a market that has
	// not been fetched yet. Callers treat it as retryable.
	ErrMarketNotFound = errors.New("market not found")
	// ErrMarketOpen is returned when the provider still reports a market as
	// open while a resolution for it is being reconciled.
	ErrMarketOpen = errors.New("market still open")
	// ErrAlreadyRunning guards lifecycle handles against a second Start.
	ErrAlreadyRunning = errors.New("already running")
)
