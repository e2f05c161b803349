package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Evidence is what a caller supplies with a status change.
type Evidence struct {
	Comment string
	Photos  []string
	Reason  string
}

// Policy is the site's completion evidence policy.
type Policy struct {
	RequirePhoto   bool
	RequireComment bool
}

// MissingEvidenceError reports which evidence a completion lacked.
type MissingEvidenceError struct {
	Status  Status
	Missing []string
}

func (e *MissingEvidenceError) Error() string {
	return fmt.Sprintf("scheduler: %s requires %s", e.Status, strings.Join(e.Missing, " and "))
}

// CheckEvidence validates ev for entering target under policy.
func CheckEvidence(target Status, ev Evidence, policy Policy) error {
	if !target.IsCompletion() {
		return nil
	}
	var missing []string
	hasPhoto := len(nonEmpty(ev.Photos)) > 0
	switch {
	case target == StatusClosedWithPhoto && !hasPhoto:
		missing = append(missing, "photo")
	case target == StatusCompleted && policy.RequirePhoto && !hasPhoto:
		missing = append(missing, "photo")
	}
	if policy.RequireComment && strings.TrimSpace(ev.Comment) == "" {
		missing = append(missing, "comment")
	}
	if len(missing) > 0 {
		return &MissingEvidenceError{Status: target, Missing: missing}
	}
	return nil
}

// Lifecycle holds the status-related fields of an execution.
type Lifecycle struct {
	Status        Status
	TakenAt       *time.Time
	TakenBy       string
	ExecutedAt    *time.Time
	ExecutedBy    string
	Comment       string
	Photos        []string
	FailureReason string
}

// Transition moves lc to target, passing through any intermediate states.
// changed is false when the request was an idempotent no-op.
func Transition(lc Lifecycle, target Status, ev Evidence, policy Policy, actor string, now time.Time) (next Lifecycle, changed bool, err error) {
	steps, err := Plan(lc.Status, target)
	if err != nil {
		return lc, false, err
	}
	if len(steps) == 0 {
		return lc, false, nil
	}
	if err := CheckEvidence(target, ev, policy); err != nil {
		return lc, false, err
	}
	next = lc
	next.Photos = append([]string(nil), lc.Photos...)
	for _, step := range steps {
		next = apply(next, step, ev, actor, now)
	}
	return next, true, nil
}

func apply(lc Lifecycle, to Status, ev Evidence, actor string, now time.Time) Lifecycle {
	from := lc.Status
	lc.Status = to
	switch {
	case to == StatusInProgress:
		if from.IsTerminal() {
			lc.ExecutedAt = nil
			lc.ExecutedBy = ""
			lc.FailureReason = ""
		}
		at := now
		lc.TakenAt = &at
		lc.TakenBy = actor
	case to.IsTerminal():
		at := now
		lc.ExecutedAt = &at
		lc.ExecutedBy = actor
		if c := strings.TrimSpace(ev.Comment); c != "" {
			lc.Comment = c
		}
		if photos := nonEmpty(ev.Photos); len(photos) > 0 {
			lc.Photos = photos
		}
		if to == StatusFailed {
			lc.FailureReason = strings.TrimSpace(ev.Reason)
		}
	}
	return lc
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
