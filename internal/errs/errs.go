// Package errs implements the closed error-kind taxonomy from the system's
// error-handling design: InvalidInput, TransientStoreError, StoreError,
// ExtractorError, DeadlineExceeded, SubscriberError and AnalyzerError. Each
// kind is a sentinel wrapped via fmt.Errorf("...: %w", ...) so callers can
// branch with errors.Is instead of string matching, while the message text
// stays terse.
package errs

import "errors"

var (
	// ErrInvalidInput marks a stream record whose shape or range is bad.
	// The record is ACKed (poison-message drop) and a counter incremented.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientStore marks a retryable graph-store conflict (deadlock,
	// serialization failure). Retried per the store adapter's backoff
	// policy; on exhaustion the worker does not ACK.
	ErrTransientStore = errors.New("transient store error")

	// ErrStore marks a non-retryable store failure. Logged, record not ACKed.
	ErrStore = errors.New("store error")

	// ErrExtractor marks a feature extractor failure. Logged, record not ACKed.
	ErrExtractor = errors.New("extractor error")

	// ErrDeadlineExceeded marks a record that missed its soft deadline.
	// Logged, record not ACKed.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrSubscriber marks an unreachable alert subscriber. Prunes the
	// subscriber but never fails the record.
	ErrSubscriber = errors.New("subscriber error")

	// ErrAnalyzer marks a failed batch-analyzer cycle. The previous cache
	// snapshot is preserved and a warning counter incremented.
	ErrAnalyzer = errors.New("analyzer error")
)

// Wrap attaches context to a sentinel while keeping errors.Is matching intact.
func Wrap(kind error, context string, cause error) error {
	if cause == nil {
		return &kindError{kind: kind, msg: context}
	}
	return &kindError{kind: kind, msg: context, cause: cause}
}

type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() error {
	if e.cause != nil {
		return errors.Join(e.kind, e.cause)
	}
	return e.kind
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}
