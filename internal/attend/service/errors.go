package service

import "errors"

var (
	// ErrConfigUnavailable means no valid session descriptor or
	// registration set was available.  Fatal to session start.
	ErrConfigUnavailable = errors.New("session configuration unavailable")

	// ErrInvalidTransition means the requested operation is not valid in
	// the coordinator's current state.  The session stays where it was.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrLedgerOwned means another loop currently holds ledger write
	// ownership.
	ErrLedgerOwned = errors.New("ledger write ownership already held")

	// ErrNotOwner means this writer's ownership was released or taken
	// over; further writes through it are rejected.
	ErrNotOwner = errors.New("ledger write ownership no longer held")

	// ErrPortalDisabled means no portal command is configured.
	ErrPortalDisabled = errors.New("registration portal is not configured")
)
