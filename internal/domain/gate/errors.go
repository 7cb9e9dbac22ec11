package gate

import "errors"

var (
	// ErrValidation marks plate text that fails format or minimum-length
	// checks. The observation is still raw-logged, never promoted.
	ErrValidation = errors.New("plate validation failed")

	// ErrLateEvent marks an observation whose timestamp precedes the
	// identity's last recorded toggle. State is never mutated by it.
	ErrLateEvent = errors.New("event older than last toggle")

	// ErrAmbiguousMatch marks a fuzzy resolution where two or more
	// candidates tied at the top score. Resolution still succeeds via the
	// recency tie-break; the ambiguity is recorded for audit.
	ErrAmbiguousMatch = errors.New("ambiguous fuzzy match")

	// ErrPersistence marks a storage write that exhausted its retries.
	ErrPersistence = errors.New("persistence failed")
)
