package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantExpirySweep evicts cached grant sets of lapsed access requests.
	TaskGrantExpirySweep = "access:sweep_expired"
)

// NewGrantExpirySweepTask constructs the sweep task. The sweep carries no
// payload; its window comes from the stored cursor.
func NewGrantExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskGrantExpirySweep, nil)
}
