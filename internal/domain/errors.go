package domain

import "errors"

// Sentinel errors shared by store implementations. Callers compare with errors.Is.
var (
	// ErrNotFound signals a missing submission or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a duplicate submission_id or session_id at creation.
	ErrConflict = errors.New("submission or session already exists")
	// ErrAlreadyLeased signals another worker holds an unexpired lease.
	ErrAlreadyLeased = errors.New("submission already leased")
	// ErrNotPending signals the submission is already terminal.
	ErrNotPending = errors.New("submission not pending")
	// ErrInvalidTransition signals a commit against a record that is not leased
	// by the caller or no longer PENDING.
	ErrInvalidTransition = errors.New("invalid status transition")
)
