package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task occurrence.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusAvailable       Status = "AVAILABLE"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusCompleted       Status = "COMPLETED"
	StatusClosedWithPhoto Status = "CLOSED_WITH_PHOTO"
	StatusFailed          Status = "FAILED"
	// StatusOverdue is derived at read time and never stored.
	StatusOverdue Status = "OVERDUE"
)

var (
	// ErrUnknownStatus indicates a status string outside the lifecycle.
	ErrUnknownStatus = errors.New("scheduler: unknown status")
	// ErrInvalidTransition indicates the requested status cannot be reached.
	ErrInvalidTransition = errors.New("scheduler: invalid status transition")
)

// transitions lists the single-step edges of the lifecycle.
var transitions = map[Status][]Status{
	StatusNew:             {StatusAvailable},
	StatusAvailable:       {StatusInProgress},
	StatusInProgress:      {StatusCompleted, StatusClosedWithPhoto, StatusFailed},
	StatusCompleted:       {StatusInProgress}, // reopen
	StatusClosedWithPhoto: {StatusInProgress}, // reopen
	StatusFailed:          {StatusInProgress}, // reopen
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := transitions[s]; ok || s == StatusOverdue {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// IsTerminal reports whether s ends the occurrence.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusClosedWithPhoto || s == StatusFailed
}

// IsCompletion reports whether s counts as successfully done.
func (s Status) IsCompletion() bool {
	return s == StatusCompleted || s == StatusClosedWithPhoto
}

// Requestable reports whether callers may ask for s explicitly.
func (s Status) Requestable() bool {
	return s != StatusNew && s != StatusOverdue
}

// ValidateTransition checks a single lifecycle edge.
func ValidateTransition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Plan returns the statuses to pass through to move from current to target.
//
// An empty plan means the request is a no-op. Skipped intermediate states are
// filled in along the shortest path, so AVAILABLE -> COMPLETED becomes
// [IN_PROGRESS, COMPLETED]. A terminal occurrence only moves back to
// IN_PROGRESS.
func Plan(current, target Status) ([]Status, error) {
	if _, ok := transitions[current]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, current)
	}
	if !target.Requestable() {
		return nil, fmt.Errorf("%w: %s cannot be requested", ErrInvalidTransition, target)
	}
	if _, ok := transitions[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	if current == target {
		return nil, nil
	}
	if current.IsTerminal() {
		if err := ValidateTransition(current, target); err != nil {
			return nil, err
		}
		return []Status{target}, nil
	}

	// Breadth-first search through non-terminal states.
	prev := map[Status]Status{current: ""}
	queue := []Status{current}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == target {
			break
		}
		if node.IsTerminal() {
			continue
		}
		for _, next := range transitions[node] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = node
			queue = append(queue, next)
		}
	}
	if _, ok := prev[target]; !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	var path []Status
	for node := target; node != current; node = prev[node] {
		path = append([]Status{node}, path...)
	}
	return path, nil
}

// Derive overlays OVERDUE on a stored status: an occurrence is overdue
// exactly when it has not been executed and its due time has passed.
func Derive(stored Status, executedAt *time.Time, dueAt, now time.Time) Status {
	if executedAt == nil && now.After(dueAt) {
		return StatusOverdue
	}
	return stored
}

// VirtualStatus is the stored-equivalent status of an unmaterialized slot.
func VirtualStatus(scheduledFor, now time.Time) Status {
	if now.Before(scheduledFor) {
		return StatusNew
	}
	return StatusAvailable
}
