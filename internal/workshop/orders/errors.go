package orders

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for work order composition.
var (
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("work order validation failed")
	// ErrDuplicateSubmission is returned when an idempotency key was already used.
	ErrDuplicateSubmission = errors.New("work order already submitted with this idempotency key")
	// ErrPartialCreation matches any *PartialCreationError.
	ErrPartialCreation = errors.New("work order partially created")
	// ErrUnbalancedTotals guards total == subtotal + tax before anything is persisted.
	ErrUnbalancedTotals = errors.New("work order totals do not add up")
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DuplicateError carries the work order created by the first submission, if
// it already finished.
type DuplicateError struct {
	Key         string
	WorkOrderID string
}

func (e *DuplicateError) Error() string {
	if e.WorkOrderID != "" {
		return fmt.Sprintf("%s (work order %s)", ErrDuplicateSubmission, e.WorkOrderID)
	}
	return ErrDuplicateSubmission.Error()
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateSubmission
}

// PartialCreationError means a work order was persisted but the workflow
// failed afterwards and the rollback did not fully succeed. Outstanding lists
// what still has to be undone; an operator or the reconciliation worker must
// finish it. Uncertain is set when Cause is a write the service may have
// applied without confirming it; that write is not part of Outstanding.
type PartialCreationError struct {
	WorkOrderID     int64
	Outstanding     Compensation
	Cause           error
	CompensationErr error
	Uncertain       bool
	Enqueued        bool
}

func (e *PartialCreationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "work order %d partially created: %v", e.WorkOrderID, e.Cause)
	if e.CompensationErr != nil {
		fmt.Fprintf(&b, "; rollback incomplete: %v", e.CompensationErr)
	}
	if e.Uncertain {
		b.WriteString("; last write unconfirmed, check it by hand")
	}
	if e.Enqueued {
		b.WriteString("; reconciliation scheduled")
	}
	return b.String()
}

func (e *PartialCreationError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrPartialCreation) match.
func (e *PartialCreationError) Is(target error) bool {
	return target == ErrPartialCreation
}
