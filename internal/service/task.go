package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
	"github.com/BuzzLyutic/task-summary-api/internal/repo"
	"github.com/BuzzLyutic/task-summary-api/internal/summarizer"
)

// ErrValidation совпадает с ошибкой репозитория, чтобы errors.Is работал на обоих уровнях
var ErrValidation = repo.ErrValidation

// Kicker wakes the background summary workers.
type Kicker interface {
	Kick()
}

type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// EditInput carries optional fields; nil keeps the stored value.
type EditInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

type TaskService struct {
	repo       repo.TaskRepository
	summarizer summarizer.Summarizer
	kicker     Kicker
}

func NewTaskService(repo repo.TaskRepository, sum summarizer.Summarizer) *TaskService {
	return &TaskService{repo: repo, summarizer: sum}
}

// SetKicker attaches the worker pool that completes edits in the background.
func (s *TaskService) SetKicker(k Kicker) {
	s.kicker = k
}

func (s *TaskService) Create(ctx context.Context, in CreateInput, idempKey string) (model.Task, error) {
	if err := validateTitle(in.Title); err != nil { // Валидация модели на корректность введенных данных
		return model.Task{}, err
	}

	if idempKey != "" { // Обеспечение идемпотентности - если ключ с ресурсом уже существует, мы не создаем его еще раз
		if existingID, err := s.repo.GetIdempotencyKey(ctx, idempKey); err == nil {
			return s.repo.Get(ctx, existingID)
		}
	}

	// Ошибка провайдера не прерывает создание, в summary попадет заглушка
	summary := s.summarizer.Summarize(ctx, in.Title, in.Description)

	resource, err := s.repo.Create(ctx, model.Task{
		Title:       in.Title,
		Description: in.Description,
		Summary:     &summary,
	})
	if err != nil {
		return resource, fmt.Errorf("create task: %w", err)
	}

	// Сохранение нового ключа
	if idempKey != "" {
		_ = s.repo.SaveIdempotencyKey(ctx, idempKey, resource.ID)
	}

	return resource, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (model.Task, error) {
	return s.repo.Get(ctx, id)
}

// List returns one page, filtered when query is not blank.
func (s *TaskService) List(ctx context.Context, query string, page model.Page) ([]model.Task, error) {
	page = page.Normalize()

	query = strings.TrimSpace(query)
	if query == "" {
		return s.repo.List(ctx, page)
	}
	return s.repo.Search(ctx, query, page)
}

// Edit replaces the task content and keeps the previous summary, marked
// stale. The worker pool regenerates it afterwards and stamps updated_at
// a second time.
func (s *TaskService) Edit(ctx context.Context, id int64, in EditInput) (model.Task, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return current, err
	}

	if in.Title != nil {
		current.Title = *in.Title
	}
	if in.Description != nil {
		current.Description = *in.Description
	}
	if err := validateTitle(current.Title); err != nil {
		return current, err
	}

	current.SummaryState = model.SummaryStale
	current.Version = 0

	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return updated, err
	}

	if s.kicker != nil {
		s.kicker.Kick()
	}
	return updated, nil
}

// RefreshSummary regenerates the summary from the current content. The
// write is guarded by the version that was read, so an edit landing while
// the provider is busy is never overwritten with the older text.
func (s *TaskService) RefreshSummary(ctx context.Context, id int64) (model.Task, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.repo.Get(ctx, id)
		if err != nil {
			return current, err
		}

		summary := s.summarizer.Summarize(ctx, current.Title, current.Description)

		current.Summary = &summary
		current.SummaryState = model.SummaryFresh

		updated, err := s.repo.Update(ctx, current)
		if !errors.Is(err, repo.ErrorConflict) {
			return updated, err
		}
		if attempt > 0 {
			// задача снова изменилась, отдаём последнюю версию, воркер досчитает summary
			return s.repo.Get(ctx, id)
		}
	}
}

func (s *TaskService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func validateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	return nil
}
