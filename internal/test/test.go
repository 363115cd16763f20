package test

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"studio-podcaster/internal/db"
)

// MockTaskEnqueuer is a mock implementation of tasks.TaskEnqueuer for testing.
type MockTaskEnqueuer struct {
	mu            sync.Mutex
	EnqueuedTasks []*asynq.Task
	Err           error
}

func (m *MockTaskEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.EnqueuedTasks = append(m.EnqueuedTasks, task)
	return &asynq.TaskInfo{ID: "test-task-id", Queue: "default", Type: task.Type()}, nil
}

// Types returns the type names of the enqueued tasks in order.
func (m *MockTaskEnqueuer) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.EnqueuedTasks))
	for _, t := range m.EnqueuedTasks {
		types = append(types, t.Type())
	}
	return types
}

func NewMockStore(t *testing.T) (*db.Store, sqlmock.Sqlmock) {
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { mockDb.Close() })
	return db.NewStore(sqlx.NewDb(mockDb, "sqlmock")), mock
}
