package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the memory engine error taxonomy.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrValidation indicates malformed caller input such as empty text or a
	// malformed key path. Validation errors are never retried.
	ErrValidation = errors.New("memory: validation failed")

	// ErrStoreUnavailable indicates the backing store could not be reached
	// after the bounded retry budget was spent.
	ErrStoreUnavailable = errors.New("memory: backing store unavailable")

	// ErrEmbedding indicates the embedding provider failed after the bounded
	// retry budget was spent. A memory is never persisted without an embedding.
	ErrEmbedding = errors.New("memory: embedding failed")

	// ErrDimensionMismatch indicates two embeddings of different
	// dimensionality met. This is an engine misconfiguration.
	ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

	// ErrEventPublish indicates an event sink failure. It is logged by the
	// engine and never returned from a mutating operation.
	ErrEventPublish = errors.New("memory: event publish failed")
)

// Error kinds categorize errors by their type.
const (
	KindValidation       = "validation"
	KindStoreUnavailable = "store_unavailable"
	KindEmbedding        = "embedding"
	KindConfiguration    = "configuration"
	KindEvent            = "event"
)

// Error is a structured error that wraps an underlying error with the
// operation that failed and the category of the failure.
//
// Error supports unwrapping, so both the sentinel matching its Kind and the
// underlying cause are visible to errors.Is() and errors.As().
//
// Example usage:
//
//	err := &Error{
//		Op:   "working.Push",
//		Kind: KindStoreUnavailable,
//		Err:  redisErr,
//	}
//	errors.Is(err, ErrStoreUnavailable) // true
type Error struct {
	// Op is the operation that failed (e.g., "episodic.Promote").
	Op string

	// Kind categorizes the error (e.g., KindValidation).
	Kind string

	// Err is the underlying cause.
	Err error

	// Context provides additional debugging information (optional).
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memory: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("memory: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("memory: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := sentinelForKind(e.Kind); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func sentinelForKind(kind string) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	case KindEmbedding:
		return ErrEmbedding
	case KindConfiguration:
		return ErrDimensionMismatch
	case KindEvent:
		return ErrEventPublish
	default:
		return nil
	}
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Validation returns a validation error for op.
func Validation(op string, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Unavailable wraps a backing store failure.
func Unavailable(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStoreUnavailable, Err: err}
}

// Embedding wraps an embedding provider failure.
func Embedding(op string, err error) *Error {
	return &Error{Op: op, Kind: KindEmbedding, Err: err}
}

// DimensionMismatch reports two embeddings of different sizes.
func DimensionMismatch(op string, want, got int) *Error {
	return &Error{
		Op:   op,
		Kind: KindConfiguration,
		Err:  fmt.Errorf("expected %d dimensions, got %d", want, got),
	}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind string) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}
