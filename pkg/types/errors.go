package types

import (
	"errors"
	"fmt"
)

// The error taxonomy shared by both engines. Callers are expected to use
// errors.As; every type here survives fmt.Errorf("%w") wrapping.

// ValidationError reports a malformed plan, query, or scope. It is always
// raised before any mutation reaches the store.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// NotFoundError reports a missing node, relationship, index, or plan.
type NotFoundError struct {
	Kind string // "entity", "relationship", "index", "plan", "label"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ExternalServiceError reports an embedding, judge, or store call that
// failed after its retry budget was exhausted.
type ExternalServiceError struct {
	Service string // "embedder", "judge", "store"
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ConcurrencyConflict reports an optimistic version mismatch on an entity
// during merge execution. The executor retries the group once before
// marking it failed.
type ConcurrencyConflict struct {
	EntityID string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("version conflict on entity %s: expected %d, found %d",
		e.EntityID, e.Expected, e.Actual)
}

// PartialFailure is the composite outcome of an execution or query where
// some units succeeded and others failed. The caller still receives the
// full report; this error flags that it must be inspected.
type PartialFailure struct {
	Succeeded int
	Failed    int
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("partial failure: %d succeeded, %d failed", e.Succeeded, e.Failed)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err wraps a ConcurrencyConflict.
func IsConflict(err error) bool {
	var cc *ConcurrencyConflict
	return errors.As(err, &cc)
}
