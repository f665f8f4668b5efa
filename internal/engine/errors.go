package engine

import (
	"errors"
	"fmt"
)

// ErrTenantMismatch is returned when a caller names a tenant that does not
// own the booking. Tasks are filed under the owning tenant, so a pass under
// any other tenant would not see them.
var ErrTenantMismatch = errors.New("tenant does not own entity")

// RuleOp names the mutation a rule attempted.
type RuleOp string

const (
	// OpCreate is the creation of a missing task.
	OpCreate RuleOp = "create"

	// OpComplete is the automatic completion of an obsolete task.
	OpComplete RuleOp = "complete"
)

// RuleError records a failed mutation for one rule during a pass.
// Other rules in the same pass are unaffected.
type RuleError struct {
	// RuleID identifies the rule whose mutation failed.
	RuleID string

	// EntityID identifies the booking.
	EntityID string

	// Op is the attempted mutation.
	Op RuleOp

	// TaskID is set for completions.
	TaskID string

	// Err is the underlying store error.
	Err error
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("rule %s: %s task %s for %s: %v", e.RuleID, e.Op, e.TaskID, e.EntityID, e.Err)
	}
	return fmt.Sprintf("rule %s: %s task for %s: %v", e.RuleID, e.Op, e.EntityID, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// FetchError reports that the state of an entity could not be loaded.
// A pass that fails to fetch performs no mutation.
type FetchError struct {
	EntityID string
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch state for %s: %v", e.EntityID, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRuleError returns true if err is or wraps a RuleError.
// Works on errors.Join results: any joined RuleError matches.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}

// RuleErrors extracts every RuleError from a pass error.
func RuleErrors(err error) []*RuleError {
	if err == nil {
		return nil
	}
	var out []*RuleError
	var walk func(error)
	walk = func(e error) {
		if re, ok := e.(*RuleError); ok {
			out = append(out, re)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if inner := errors.Unwrap(e); inner != nil {
			walk(inner)
		}
	}
	walk(err)
	return out
}

// IsFetchError returns true if err is or wraps a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
