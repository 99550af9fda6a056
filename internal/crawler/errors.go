package crawler

import "errors"

var (
	// ErrRootUnavailable aborts a run when the root listing cannot be fetched.
	ErrRootUnavailable = errors.New("root page unavailable")
	// ErrParseFailure marks a fetched page whose required fields are missing.
	ErrParseFailure = errors.New("parse failure")
	// ErrMissingName is the parse failure for clinic pages without a name.
	ErrMissingName = errors.New("clinic name not found")
	// ErrRetriesExhausted wraps the last reason once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)
