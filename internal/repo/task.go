package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
	ErrValidation = errors.New("validation error")
)

// description бывает NULL в таблицах, созданных до EnsureSchema
const taskColumns = `id, title, COALESCE(description, '') AS description, summary, summary_state, version, created_at, updated_at`

type TaskRepo struct { // Репозиторий для работы непосредственно с БД
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo { // Конструктор
	return &TaskRepo{
		pool: pool,
	}
}

func (r *TaskRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return t, fmt.Errorf("%w: title is required", ErrValidation)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (title, description, summary, summary_state, version, created_at)
		VALUES ($1, $2, $3, 'fresh', 1, now())
		RETURNING `+taskColumns,
		t.Title, t.Description, t.Summary)

	created, err := scanTask(row)
	return created, r.mapError(err)
}

func (r *TaskRepo) Get(ctx context.Context, id int64) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (r *TaskRepo) List(ctx context.Context, page model.Page) ([]model.Task, error) {
	page = page.Normalize()

	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY id DESC
		LIMIT $1 OFFSET $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, page.Size)
}

// Search ищет подстроку без учета регистра в title, description и summary
func (r *TaskRepo) Search(ctx context.Context, query string, page model.Page) ([]model.Task, error) {
	page = page.Normalize()

	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE title ILIKE $1 ESCAPE '\'
		   OR description ILIKE $1 ESCAPE '\'
		   OR COALESCE(summary, '') ILIKE $1 ESCAPE '\'
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, likePattern(query), page.Size, page.Offset())
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, page.Size)
}

func (r *TaskRepo) Update(ctx context.Context, t model.Task) (model.Task, error) {
	state := t.SummaryState
	if state == "" {
		state = model.SummaryFresh
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, summary = $4, summary_state = $5,
		    version = version + 1, updated_at = now()
		WHERE id = $1 AND ($6::int = 0 OR version = $6)
		RETURNING `+taskColumns,
		t.ID, t.Title, t.Description, t.Summary, string(state), t.Version)

	updated, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if t.Version == 0 {
			return t, ErrorNotFound
		}
		// Отличаем удаленную задачу от конфликта версий
		if _, getErr := r.Get(ctx, t.ID); errors.Is(getErr, ErrorNotFound) {
			return t, ErrorNotFound
		}
		return t, ErrorConflict
	}
	return updated, r.mapError(err)
}

func (r *TaskRepo) Delete(ctx context.Context, id int64) error {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

// ClaimStale забирает одну задачу с устаревшим summary для фонового обновления
func (r *TaskRepo) ClaimStale(ctx context.Context) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		WITH claimed AS (
			SELECT id
			FROM tasks
			WHERE summary_state = 'stale'
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tasks
		SET summary_state = 'refreshing'
		FROM claimed
		WHERE tasks.id = claimed.id
		RETURNING tasks.id, tasks.title, COALESCE(tasks.description, ''), tasks.summary, tasks.summary_state,
		          tasks.version, tasks.created_at, tasks.updated_at
	`)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, ErrorNotFound
	}
	return t, err
}

func (r *TaskRepo) RequeueRefreshing(ctx context.Context) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE tasks SET summary_state = 'stale' WHERE summary_state = 'refreshing'
	`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *TaskRepo) SaveIdempotencyKey(ctx context.Context, key string, resourceID int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_keys (key, resource_id) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, resourceID)
	return err
}

func (r *TaskRepo) GetIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		SELECT resource_id FROM idempotency_keys WHERE key = $1
	`, key).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrorNotFound
	}
	return id, err
}

func (r *TaskRepo) mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrorConflict
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (model.Task, error) {
	var (
		t     model.Task
		state string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Summary, &state, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.SummaryState = model.SummaryState(state)
	t.CreatedAt = t.CreatedAt.UTC()
	if t.UpdatedAt != nil {
		u := t.UpdatedAt.UTC()
		t.UpdatedAt = &u
	}
	return t, nil
}

func collectTasks(rows pgx.Rows, capacity int) ([]model.Task, error) {
	defer rows.Close()

	tasks := make([]model.Task, 0, capacity)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern превращает запрос в литеральный шаблон подстроки
func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}
