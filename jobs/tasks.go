package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantRetention purges grants that stopped being effective long ago.
	TaskGrantRetention = "rbac:grant_retention"
	// GrantRetentionCron runs the purge nightly.
	GrantRetentionCron = "30 2 * * *"
)

// GrantRetentionPayload carries scheduling metadata. A positive Retention overrides
// the worker's configured window for this run.
type GrantRetentionPayload struct {
	ScheduledFor time.Time     `json:"scheduled_for"`
	Retention    time.Duration `json:"retention,omitempty"`
}

// NewGrantRetentionTask constructs the purge task.
func NewGrantRetentionTask(payload GrantRetentionPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantRetention, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
