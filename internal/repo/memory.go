package repo

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

// MemoryTaskRepo keeps tasks in process memory. Used for local development
// (STORAGE_DRIVER=memory) and in tests that do not need PostgreSQL.
type MemoryTaskRepo struct {
	mu      sync.RWMutex
	tasks   map[int64]model.Task
	keys    map[string]int64
	lastID  int64
	nowFunc func() time.Time
}

func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{
		tasks:   make(map[int64]model.Task),
		keys:    make(map[string]int64),
		nowFunc: time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *MemoryTaskRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = now
}

func (r *MemoryTaskRepo) now() time.Time {
	return r.nowFunc().UTC()
}

func (r *MemoryTaskRepo) Create(_ context.Context, t model.Task) (model.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return t, fmt.Errorf("%w: title is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// ids are never reused, even after deletes
	r.lastID++
	t.ID = r.lastID
	t.CreatedAt = r.now()
	t.UpdatedAt = nil
	t.Version = 1
	t.SummaryState = model.SummaryFresh
	t.Summary = copyString(t.Summary)

	r.tasks[t.ID] = t
	return cloneTask(t), nil
}

func (r *MemoryTaskRepo) Get(_ context.Context, id int64) (model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return model.Task{}, ErrorNotFound
	}
	return cloneTask(t), nil
}

func (r *MemoryTaskRepo) List(ctx context.Context, page model.Page) ([]model.Task, error) {
	return r.Search(ctx, "", page)
}

func (r *MemoryTaskRepo) Search(_ context.Context, query string, page model.Page) ([]model.Task, error) {
	page = page.Normalize()
	needle := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if needle == "" || matches(t, needle) {
			matched = append(matched, t)
		}
	}
	slices.SortFunc(matched, func(a, b model.Task) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	start := page.Offset()
	if start >= len(matched) {
		return []model.Task{}, nil
	}
	end := min(start+page.Size, len(matched))

	out := make([]model.Task, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (r *MemoryTaskRepo) Update(_ context.Context, t model.Task) (model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[t.ID]
	if !ok {
		return t, ErrorNotFound
	}
	if t.Version != 0 && t.Version != stored.Version {
		return t, ErrorConflict
	}

	now := r.now()
	if now.Before(stored.CreatedAt) {
		now = stored.CreatedAt
	}

	stored.Title = t.Title
	stored.Description = t.Description
	stored.Summary = copyString(t.Summary)
	stored.SummaryState = t.SummaryState
	if stored.SummaryState == "" {
		stored.SummaryState = model.SummaryFresh
	}
	stored.Version++
	stored.UpdatedAt = &now

	r.tasks[t.ID] = stored
	return cloneTask(stored), nil
}

func (r *MemoryTaskRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return ErrorNotFound
	}
	delete(r.tasks, id)
	return nil
}

func (r *MemoryTaskRepo) ClaimStale(_ context.Context) (model.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		claimed model.Task
		found   bool
	)
	for _, t := range r.tasks {
		if t.SummaryState != model.SummaryStale {
			continue
		}
		if !found || t.ID < claimed.ID {
			claimed, found = t, true
		}
	}
	if !found {
		return model.Task{}, ErrorNotFound
	}

	claimed.SummaryState = model.SummaryRefreshing
	r.tasks[claimed.ID] = claimed
	return cloneTask(claimed), nil
}

func (r *MemoryTaskRepo) RequeueRefreshing(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tasks {
		if t.SummaryState == model.SummaryRefreshing {
			t.SummaryState = model.SummaryStale
			r.tasks[id] = t
			n++
		}
	}
	return n, nil
}

func (r *MemoryTaskRepo) SaveIdempotencyKey(_ context.Context, key string, resourceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[key]; !exists {
		r.keys[key] = resourceID
	}
	return nil
}

func (r *MemoryTaskRepo) GetIdempotencyKey(_ context.Context, key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key]
	if !ok {
		return 0, ErrorNotFound
	}
	return id, nil
}

func matches(t model.Task, needle string) bool {
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.SummaryText()), needle)
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTask(t model.Task) model.Task {
	t.Summary = copyString(t.Summary)
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		t.UpdatedAt = &u
	}
	return t
}

var _ TaskRepository = (*MemoryTaskRepo)(nil)
var _ TaskRepository = (*TaskRepo)(nil)
