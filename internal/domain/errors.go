package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrInvalidQuote         = errors.New("invalid quote")
	ErrUnresolvedEvent      = errors.New("unresolved event")
	ErrStaleDelivery        = errors.New("stale delivery")
	ErrDegenerateAllocation = errors.New("degenerate stake allocation")
	ErrRunFinalized         = errors.New("run already finalized")
	ErrLockHeld             = errors.New("lock already held")
)
