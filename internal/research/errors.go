package research

import (
	"fmt"
)

// ErrorKind says whether a retrieval failure may be retried.
type ErrorKind string

const (
	// KindRateLimited is an HTTP 429 from the provider.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers other non-2xx statuses, transport and decode failures, and an open breaker.
	KindTransient ErrorKind = "transient"
	// KindPermanent covers failures that retrying cannot fix, such as a cancelled context.
	KindPermanent ErrorKind = "permanent"
)

// RetrievalError is a typed failure from the retrieval provider.
type RetrievalError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *RetrievalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retrieval %s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("retrieval %s: %v", e.Kind, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *RetrievalError) Retryable() bool { return e.Kind != KindPermanent }

func rateLimited(status int, err error) *RetrievalError {
	return &RetrievalError{Kind: KindRateLimited, StatusCode: status, Err: err}
}

func transient(status int, err error) *RetrievalError {
	return &RetrievalError{Kind: KindTransient, StatusCode: status, Err: err}
}

func permanent(err error) *RetrievalError {
	return &RetrievalError{Kind: KindPermanent, Err: err}
}
