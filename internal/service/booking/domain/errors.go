package domain

import "errors"

var (
	ErrInvalidSeats         = errors.New("seats must be a positive integer")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrEventNotFound        = errors.New("event not found")
	ErrEventExists          = errors.New("event already registered")
	ErrEventQuarantined     = errors.New("event quarantined after ledger inconsistency")
	ErrLedgerMismatch       = errors.New("ledger accounting mismatch")

	ErrHoldNotFound = errors.New("hold not found")
	ErrInvalidState = errors.New("invalid hold state transition")

	ErrRecordNotFound        = errors.New("idempotency record not found")
	ErrInvalidIdempotencyKey = errors.New("idempotency key is required")
	ErrIdempotencyConflict   = errors.New("idempotency key reused with different request")
	ErrBookingInProgress     = errors.New("booking with this idempotency key is still in progress")
	ErrRequestRejected       = errors.New("booking request rejected by admission policy")
	ErrInvalidRequest        = errors.New("invalid booking request")
)
