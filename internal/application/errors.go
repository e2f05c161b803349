package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidTaskReference is returned when a task reference cannot be decoded
	// or points at a slot that cannot belong to its work item.
	ErrInvalidTaskReference = errors.New("application: invalid task reference")
	// ErrUnknownWorkItem is returned when a reference names a work item that no
	// longer exists or is inactive.
	ErrUnknownWorkItem = errors.New("application: unknown work item")
	// ErrInvalidTransition is returned when the requested status cannot be reached
	// from the current one.
	ErrInvalidTransition = errors.New("application: invalid status transition")
	// ErrConflict is returned when a concurrent writer kept winning the
	// optimistic version check.
	ErrConflict = errors.New("application: concurrent modification")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// MissingCompletionEvidenceError is returned when a completion request lacks
// the photo or comment demanded by the target status or the site policy.
type MissingCompletionEvidenceError struct {
	Status  string
	Missing []string
}

// Error implements the error interface.
func (e *MissingCompletionEvidenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("application: %s requires %s", e.Status, strings.Join(e.Missing, " and "))
}
