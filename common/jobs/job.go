// Package jobs defines the durable execution record and its status state
// machine (spec §3), grounded on cmd/orchestrator/models/run.go's Run/
// RunStatus shape, renamed to the spec's own vocabulary.
package jobs

import (
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/jsonvalue"
)

// Status is one of the five states of spec §3's Job state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// terminal states are absorbing: no transition leaves them.
var terminal = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// transitions enumerates the DAG of spec §3.
var transitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransitionTo reports whether moving from s to next is legal. Terminal
// states never transition anywhere, including to themselves.
func (s Status) CanTransitionTo(next Status) bool {
	if terminal[s] {
		return false
	}
	return transitions[s][next]
}

// Job is the durable execution record (spec §3).
type Job struct {
	ID          uuid.UUID
	Name        string
	WorkflowRef string
	Status      Status
	RetryCount  int
	Input       jsonvalue.Value
	Output      jsonvalue.Value
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
