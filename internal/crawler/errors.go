package crawler

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the frontier, executor, and router.
var (
	// ErrDuplicateTask is returned by enqueue when the URL is already live or completed in the session.
	ErrDuplicateTask = errors.New("duplicate crawl task")
	// ErrNoMatchingRule is returned when no routing rule accepts a response.
	ErrNoMatchingRule = errors.New("no matching rule")
	// ErrSizeLimitExceeded is returned by transports when a payload exceeds the configured cap.
	ErrSizeLimitExceeded = errors.New("content size limit exceeded")
	// ErrTaskNotFound is returned when a task id is unknown to the frontier.
	ErrTaskNotFound = errors.New("crawl task not found")
	// ErrTaskNotClaimed is returned when releasing a task nobody holds.
	ErrTaskNotClaimed = errors.New("crawl task not claimed")
	// ErrDisallowedByRobots marks a task skipped because robots directives forbid it.
	ErrDisallowedByRobots = errors.New("disallowed by robots directives")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session whose id is taken.
	ErrSessionExists = errors.New("session already exists")
)

// MultiAttemptFailure is returned once the retry budget is exhausted. It keeps
// every attempt's error in order.
type MultiAttemptFailure struct {
	Method Method
	URL    string
	Errors []error
}

func (e *MultiAttemptFailure) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for i, err := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("attempt %d: %v", i+1, err))
	}
	return fmt.Sprintf("failed to access %s %s after %d attempts: %s",
		e.Method, e.URL, len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the attempt errors to errors.Is and errors.As.
func (e *MultiAttemptFailure) Unwrap() []error {
	return e.Errors
}

// StatusError reports an HTTP status the transport considers transient.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retryable status %d from %s", e.StatusCode, e.URL)
}

// SizeLimitError carries the observed size alongside ErrSizeLimitExceeded.
type SizeLimitError struct {
	URL   string
	Limit int64
	Size  int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds limit of %d", e.URL, e.Size, e.Limit)
}

// Is lets errors.Is(err, ErrSizeLimitExceeded) match.
func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}
