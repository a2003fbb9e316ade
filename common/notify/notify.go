// Package notify publishes best-effort Job lifecycle events over Redis
// pub/sub, grounded on the teacher's common/worker/completion.go signal
// push, generalized from its token-passing completion queue to a plain
// status-change channel a worker publishes to and an operator can tail.
// Publishing goes through common/redis.Client.PublishEvent, the same
// instrumented wrapper the teacher's other Redis-touching components use.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflowcore/common/jobs"
	redisclient "github.com/lyzr/workflowcore/common/redis"
)

const channel = "job_lifecycle"

// Event is one Job status transition, published verbatim as JSON.
type Event struct {
	JobID     uuid.UUID   `json:"job_id"`
	Status    jobs.Status `json:"status"`
	Error     *string     `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notifier publishes Job lifecycle events. A nil *redis.Client makes every
// call a no-op, so wiring this in is always optional.
type Notifier struct {
	client *redisclient.Client
}

func New(client *redisclient.Client) *Notifier {
	return &Notifier{client: client}
}

// Publish pushes an Event to the job_lifecycle channel. Failures are
// logged (by the wrapper) and swallowed: a notifier outage must never
// fail a Job.
func (n *Notifier) Publish(ctx context.Context, evt Event) {
	if n == nil || n.client == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = n.client.PublishEvent(ctx, channel, string(payload))
}

// PublishStatus is the common case: a status transition with no error.
func (n *Notifier) PublishStatus(ctx context.Context, jobID uuid.UUID, status jobs.Status) {
	n.Publish(ctx, Event{JobID: jobID, Status: status, Timestamp: time.Now()})
}

// PublishFailure reports a failed Job with its error message attached.
func (n *Notifier) PublishFailure(ctx context.Context, jobID uuid.UUID, errMsg string) {
	n.Publish(ctx, Event{JobID: jobID, Status: jobs.StatusFailed, Error: &errMsg, Timestamp: time.Now()})
}
