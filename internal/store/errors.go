package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrClaimConflict is returned when the conditional pending -> processing
	// update matched no row: another worker claimed the job first.
	ErrClaimConflict = errors.New("job claimed by another worker")
	// ErrLeaseLost is returned when a processing transition no longer matches
	// the caller's lease: the job was reclaimed, cancelled or finalized.
	ErrLeaseLost = errors.New("job lease no longer held")
	// ErrNotPending is returned when a pending-only transition finds the job in
	// another state.
	ErrNotPending = errors.New("job is not pending")
)
