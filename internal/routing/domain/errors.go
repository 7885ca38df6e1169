package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a lead, agent or stage does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRankConflict is returned when a rank write lost against a concurrent
	// write to the same stage.
	ErrRankConflict = errors.New("rank conflict")
	// ErrAssignmentRace is returned when another caller stamped the selected
	// agent between read and stamp.
	ErrAssignmentRace = errors.New("assignment race")
	// ErrIdentityBusy is returned when an identity lock could not be acquired
	// within the configured attempts.
	ErrIdentityBusy = errors.New("contact identity is locked")
)

// Step names the part of the routing pipeline that failed.
type Step string

const (
	StepAssignment Step = "assignment"
	StepRanking    Step = "ranking"
	StepDedup      Step = "dedup"
)

// StageError is the single error surfaced when a transient failure persisted
// through every retry.
type StageError struct {
	Step     Step
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Step, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StepOf returns the failed step when err carries a StageError.
func StepOf(err error) (Step, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
