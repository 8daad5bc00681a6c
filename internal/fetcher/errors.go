package fetcher

import (
	"errors"
	"fmt"
)

// ErrPolicyViolation marks a request to a host outside the allowed set.
var ErrPolicyViolation = errors.New("url outside allowed domains")

// PolicyError is returned when a URL fails the allowed-domain check. It is
// never retried.
type PolicyError struct {
	URL  string
	Host string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s: host %q (url %s)", ErrPolicyViolation, e.Host, e.URL)
}

// Unwrap lets errors.Is match ErrPolicyViolation.
func (e *PolicyError) Unwrap() error {
	return ErrPolicyViolation
}

// FetchError reports a failed fetch after classification.
type FetchError struct {
	URL        string
	Reason     FailureReason
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// transientStatusError is raised for status codes worth retrying.
type transientStatusError struct {
	code int
}

func (e *transientStatusError) Error() string {
	return fmt.Sprintf("transient status %d", e.code)
}
