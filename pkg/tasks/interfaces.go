package tasks

import (
	"context"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is the slice of *asynq.Client the server and worker use.
// Tests substitute a recording fake.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
