package repo

import (
	"context"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

// TaskRepository определяет интерфейс для работы с задачами
type TaskRepository interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id int64) (model.Task, error)
	List(ctx context.Context, page model.Page) ([]model.Task, error)
	Search(ctx context.Context, query string, page model.Page) ([]model.Task, error)
	// Update replaces title, description, summary and summary state and stamps updated_at.
	// A non-zero t.Version makes the update conditional on the stored version.
	Update(ctx context.Context, t model.Task) (model.Task, error)
	Delete(ctx context.Context, id int64) error
	ClaimStale(ctx context.Context) (model.Task, error)
	RequeueRefreshing(ctx context.Context) (int64, error)
	SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error
	GetIdempotencyKey(ctx context.Context, key string) (int64, error)
}
