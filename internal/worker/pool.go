package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
	"github.com/BuzzLyutic/task-summary-api/internal/repo"
	"github.com/BuzzLyutic/task-summary-api/internal/summarizer"
)

const DefaultInterval = time.Second

// Pool finishes edits in the background: it claims tasks whose summary is
// stale, regenerates the summary and writes it back.
type Pool struct {
	repo       repo.TaskRepository
	summarizer summarizer.Summarizer
	logger     *zap.Logger
	count      int
	interval   time.Duration
	wg         sync.WaitGroup
	wake       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewPool(r repo.TaskRepository, sum summarizer.Summarizer, logger *zap.Logger, count int, interval time.Duration) *Pool {
	if count <= 0 {
		count = 1
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Pool{
		repo:       r,
		summarizer: sum,
		logger:     logger,
		count:      count,
		interval:   interval,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) {
	// Задачи, оставшиеся в refreshing после падения, возвращаются в очередь
	n, err := p.repo.RequeueRefreshing(ctx)
	if err != nil {
		p.logger.Error("Failed to requeue interrupted summaries", zap.Error(err))
	} else if n > 0 {
		p.logger.Info("Requeued interrupted summaries", zap.Int64("count", n))
	}

	p.logger.Info("Starting worker pool", zap.Int("workers", p.count))

	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool...")
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// Kick wakes one idle worker without waiting for the next tick.
func (p *Pool) Kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
		p.drain(ctx, id)
	}
}

// drain обрабатывает задачи, пока очередь не опустеет
func (p *Pool) drain(ctx context.Context, id int) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		err := p.processNext(ctx, id)
		if errors.Is(err, repo.ErrorNotFound) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("worker error", zap.Int("worker", id), zap.Error(err))
			}
			return
		}
	}
}

func (p *Pool) processNext(ctx context.Context, workerID int) error {
	// Забрать задачу
	task, err := p.repo.ClaimStale(ctx)
	if err != nil {
		return err
	}

	p.logger.Debug("Refreshing summary",
		zap.Int("worker", workerID),
		zap.Int64("task_id", task.ID),
		zap.Int("version", task.Version),
	)

	start := time.Now()
	summary := p.summarizer.Summarize(ctx, task.Title, task.Description)
	if err := ctx.Err(); err != nil {
		// Отмена: задача остается в refreshing и вернется в очередь при следующем Start
		return err
	}

	task.Summary = &summary
	task.SummaryState = model.SummaryFresh

	_, err = p.repo.Update(ctx, task)
	switch {
	case errors.Is(err, repo.ErrorConflict), errors.Is(err, repo.ErrorNotFound):
		// Задачу изменили или удалили, пока шла генерация
		p.logger.Debug("Dropping outdated summary",
			zap.Int("worker", workerID),
			zap.Int64("task_id", task.ID),
			zap.Error(err),
		)
		return nil
	case err != nil:
		return err
	}

	p.logger.Info("Summary refreshed",
		zap.Int("worker", workerID),
		zap.Int64("task_id", task.ID),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
