package ingest

import (
	"errors"
	"fmt"
)

// Sentinel errors used to classify per-item failures.
var (
	ErrDuplicateSourceURL = errors.New("duplicate source url")
	ErrDuplicateFileHash  = errors.New("duplicate content hash")
	ErrNetwork            = errors.New("network failure")
	ErrHotlinkRejected    = fmt.Errorf("origin rejected hotlink: %w", ErrNetwork)
	ErrInvalidContent     = errors.New("invalid content")
	ErrTranslationFailed  = errors.New("translation failed")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrUnavailable        = errors.New("dependency unavailable")
	ErrNotFound           = errors.New("record not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrQueueClosed        = errors.New("queue closed")
)

// ErrorKind is the log-facing classification of an item failure.
type ErrorKind string

// Error kinds.
const (
	KindDuplicate   ErrorKind = "duplicate"
	KindNetwork     ErrorKind = "network_failure"
	KindHotlink     ErrorKind = "hotlink_rejected"
	KindInvalid     ErrorKind = "invalid_content"
	KindTranslation ErrorKind = "translation_failed"
	KindMalformed   ErrorKind = "malformed_payload"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

// ItemError annotates a failure with the stage and platform it happened in.
type ItemError struct {
	Stage    Stage
	Platform Platform
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Platform, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Kind classifies the wrapped error.
func (e *ItemError) Kind() ErrorKind {
	return Classify(e.Err)
}

// WrapItem attaches stage and platform to err. A nil err stays nil.
func WrapItem(stage Stage, platform Platform, err error) error {
	if err == nil {
		return nil
	}
	return &ItemError{Stage: stage, Platform: platform, Err: err}
}

// Classify maps err onto an ErrorKind for structured logs and metrics.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case IsDuplicate(err):
		return KindDuplicate
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrHotlinkRejected):
		return KindHotlink
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrInvalidContent):
		return KindInvalid
	case errors.Is(err, ErrTranslationFailed):
		return KindTranslation
	case errors.Is(err, ErrMalformedPayload):
		return KindMalformed
	default:
		return KindInternal
	}
}

// IsDuplicate reports whether err is one of the uniqueness outcomes.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateSourceURL) || errors.Is(err, ErrDuplicateFileHash)
}
