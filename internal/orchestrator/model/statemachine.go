package model

import (
	"fmt"
	"time"
)

// validTransitions enumerates the legal JobStatus graph. CANCELLED is
// reachable from every non-terminal state; terminal states have no
// outgoing edges.
var validTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobQueued, JobCancelled},
	JobQueued:  {JobRunning, JobCancelled},
	JobRunning: {JobCompleted, JobFailed, JobTimeout, JobCancelled},
}

// CanTransition reports whether from -> to is a legal state-machine edge.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether status has no outgoing transitions.
func IsTerminalStatus(status JobStatus) bool {
	return terminalStatuses[status]
}

// IsActiveStatus reports whether status consumes robot capacity.
func IsActiveStatus(status JobStatus) bool {
	return status == JobRunning
}

// IsWaitingStatus reports whether status is queued for resources.
func IsWaitingStatus(status JobStatus) bool {
	return status == JobPending || status == JobQueued
}

// StateError is returned for an attempted transition that the state machine
// graph does not permit.
type StateError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s for job %s", e.From, e.To, e.JobID)
}

// Transition moves j to the given status, stamping StartedAt/CompletedAt
// and computing DurationMS as appropriate, or returns a *StateError if the
// edge is not legal. Callers hold whatever lock guards j.
func Transition(j *Job, to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &StateError{JobID: j.ID, From: j.Status, To: to}
	}
	if to == JobRunning {
		j.StartedAt = &now
	} else if IsTerminalStatus(to) {
		j.CompletedAt = &now
		if j.StartedAt != nil {
			j.DurationMS = now.Sub(*j.StartedAt).Milliseconds()
		}
	}
	j.Status = to
	return nil
}
