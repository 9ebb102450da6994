package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented indicates functionality is not yet available.
	ErrNotImplemented = errors.New("not implemented")

	// ErrUnsupportedType indicates an unknown content or MIME type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrLockContention indicates another sync holds the single-instance lock.
	// Callers are expected to retry later.
	ErrLockContention = errors.New("sync lock held by another operation")

	// ErrCancelled indicates an operation stopped on operator request.
	ErrCancelled = errors.New("sync cancelled")

	// ErrGenerationUnavailable indicates no generation provider is configured.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrEmbeddingUnavailable indicates no embedding provider is configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrVectorIndexUnavailable indicates the vector index is not configured.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrRateLimited indicates a provider rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrQuotaExceeded indicates a provider account is out of quota.
	// Unlike ErrRateLimited it does not clear by waiting.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTooManyFailures indicates the consecutive failure limit was reached.
	ErrTooManyFailures = errors.New("too many consecutive failures")
)

// TransientProviderError is a provider failure worth retrying
// (timeouts, connection resets, 429 and 5xx responses).
type TransientProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: transient error (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: transient error: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// FatalProviderError is a provider failure that must not be retried
// (authentication, quota, malformed request).
type FatalProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *FatalProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: fatal error (status %d): %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: fatal error: %v", e.Provider, e.Op, e.Err)
}

func (e *FatalProviderError) Unwrap() error { return e.Err }

// EmbeddingError reports a failed embedding batch. The whole batch fails;
// embeddings are never zero-filled.
type EmbeddingError struct {
	// BatchIndices are the input positions that did not get a vector.
	BatchIndices []int
	Err          error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding batch failed for %d input(s): %v", len(e.BatchIndices), e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError wraps a persistence failure. It is fatal for the current
// item but not for the sync operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError marks a malformed content item. The item is skipped.
type ValidationError struct {
	Ref    ContentRef
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Ref.ContentID == "" && e.Ref.ContentType == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation %s: %s", e.Ref, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a ValidationError.
func NewValidationError(ref ContentRef, reason string) *ValidationError {
	return &ValidationError{Ref: ref, Reason: reason}
}

// LockContentionError describes the holder of a contended lock.
type LockContentionError struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lock %q held by %s since %s (expires %s)",
		e.Name, e.Holder, e.AcquiredAt.Format(time.RFC3339), e.ExpiresAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrLockContention) match.
func (e *LockContentionError) Is(target error) bool {
	return target == ErrLockContention
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsFatal reports whether err is a non-retryable provider failure.
func IsFatal(err error) bool {
	var f *FatalProviderError
	return errors.As(err, &f)
}

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
