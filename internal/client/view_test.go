package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

// fakeAPI хранит задачи в памяти и записывает все вызовы
type fakeAPI struct {
	mu     sync.Mutex
	tasks  []model.Task // по возрастанию id
	nextID int64
	calls  []string

	editErr    error
	refreshErr error
	deleteErr  error

	// если задан, List для этого запроса ждёт закрытия release
	slowQuery string
	entered   chan struct{}
	release   chan struct{}
}

func newFakeAPI(n int) *fakeAPI {
	f := &fakeAPI{}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		f.nextID++
		f.tasks = append(f.tasks, model.Task{
			ID:           f.nextID,
			Title:        fmt.Sprintf("Task %d", i),
			Summary:      model.StringPtr(fmt.Sprintf("summary %d", i)),
			SummaryState: model.SummaryFresh,
			Version:      1,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	return f
}

func (f *fakeAPI) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) List(ctx context.Context, query string, page model.Page) ([]model.Task, error) {
	f.mu.Lock()
	f.record("list %q %d", query, page.Number)
	slow := f.slowQuery != "" && query == f.slowQuery
	f.mu.Unlock()

	if slow {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []model.Task
	for i := len(f.tasks) - 1; i >= 0; i-- {
		t := f.tasks[i]
		if query == "" || strings.Contains(strings.ToLower(t.Title), strings.ToLower(query)) {
			matched = append(matched, t)
		}
	}
	start := page.Offset()
	if start >= len(matched) {
		return []model.Task{}, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (f *fakeAPI) Create(ctx context.Context, title, description string) (CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create %s", title)

	f.nextID++
	t := model.Task{ID: f.nextID, Title: title, Description: description, CreatedAt: time.Now()}
	f.tasks = append(f.tasks, t)
	return CreateResult{ID: t.ID, CreatedAt: t.CreatedAt}, nil
}

func (f *fakeAPI) Edit(ctx context.Context, id int64, title, description string) (EditResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("edit %d", id)

	if f.editErr != nil {
		return EditResult{}, f.editErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			now := time.Now()
			f.tasks[i].Title = title
			f.tasks[i].Description = description
			f.tasks[i].UpdatedAt = &now
			return EditResult{Updated: true, ID: id, UpdatedAt: &now}, nil
		}
	}
	return EditResult{}, &APIError{Status: http.StatusNotFound, Message: "not found"}
}

func (f *fakeAPI) RefreshSummary(ctx context.Context, id int64) (SummaryResult, error) {
	f.mu.Lock()
	f.record("refresh %d", id)
	slow := f.slowQuery == "refresh"
	f.mu.Unlock()

	if slow {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return SummaryResult{}, f.refreshErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			now := time.Now()
			f.tasks[i].Summary = model.StringPtr("fresh summary of " + f.tasks[i].Title)
			f.tasks[i].UpdatedAt = &now
			return SummaryResult{ID: id, Summary: f.tasks[i].Summary, UpdatedAt: &now}, nil
		}
	}
	return SummaryResult{}, &APIError{Status: http.StatusNotFound, Message: "not found"}
}

func (f *fakeAPI) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %d", id)

	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return &APIError{Status: http.StatusNotFound, Message: "not found"}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func ids(items []Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Task.ID)
	}
	return out
}

func findItem(t *testing.T, v *View, id int64) Item {
	t.Helper()
	for _, it := range v.Items() {
		if it.Task.ID == id {
			return it
		}
	}
	t.Fatalf("task %d not in view", id)
	return Item{}
}

func TestView_Pagination(t *testing.T) {
	api := newFakeAPI(25)
	v := NewView(api, Options{PageSize: 10})
	ctx := context.Background()

	require.NoError(t, v.Reload(ctx, ""))
	items := v.Items()
	require.Len(t, items, 10)
	assert.Equal(t, int64(25), items[0].Task.ID)
	assert.Equal(t, int64(16), items[9].Task.ID)
	assert.Equal(t, 1, v.Cursor())

	require.NoError(t, v.LoadNext(ctx))
	assert.Len(t, v.Items(), 20)
	assert.Equal(t, 2, v.Cursor())

	require.NoError(t, v.LoadNext(ctx))
	assert.Len(t, v.Items(), 25)
	assert.Equal(t, 3, v.Cursor())
	assert.True(t, v.Exhausted())

	// после последней страницы запросов больше нет
	callsBefore := len(api.Calls())
	require.NoError(t, v.LoadNext(ctx))
	assert.Len(t, api.Calls(), callsBefore)

	// новый поиск очищает список и сбрасывает курсор
	require.NoError(t, v.Reload(ctx, "task 2"))
	assert.Equal(t, 1, v.Cursor())
	assert.Equal(t, []int64{25, 24, 23, 22, 21, 20, 2}, ids(v.Items()))
	assert.Equal(t, "task 2", v.Query())
}

func TestView_SupersededReloadIsDiscarded(t *testing.T) {
	api := newFakeAPI(12)
	api.slowQuery = "task"
	api.entered = make(chan struct{})
	api.release = make(chan struct{})

	v := NewView(api, Options{PageSize: 10})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- v.Reload(ctx, "task") }()
	<-api.entered

	require.NoError(t, v.Reload(ctx, "task 1"))
	close(api.release)
	require.NoError(t, <-done)

	// ответ на устаревший запрос не должен перезаписать список
	assert.Equal(t, []int64{12, 11, 10, 1}, ids(v.Items()))
	assert.Equal(t, "task 1", v.Query())
	assert.False(t, v.Loading())
}

func TestView_LoadNextGuardedWhileLoading(t *testing.T) {
	api := newFakeAPI(30)
	api.slowQuery = "task"
	api.entered = make(chan struct{})
	api.release = make(chan struct{})

	v := NewView(api, Options{PageSize: 10})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- v.Reload(ctx, "task") }()
	<-api.entered
	assert.True(t, v.Loading())

	callsBefore := len(api.Calls())
	require.NoError(t, v.LoadNext(ctx))
	assert.Len(t, api.Calls(), callsBefore, "LoadNext must not start a second load")

	close(api.release)
	require.NoError(t, <-done)
	assert.False(t, v.Loading())
	assert.Len(t, v.Items(), 10)
	assert.Equal(t, 1, v.Cursor())
}

func TestView_CancelEditMakesNoRequests(t *testing.T) {
	api := newFakeAPI(3)
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))
	callsBefore := len(api.Calls())

	require.NoError(t, v.BeginEdit(2))
	assert.Equal(t, Editing, findItem(t, v, 2).State)

	require.NoError(t, v.SetDraft(2, "changed", "changed too"))
	assert.Equal(t, "changed", findItem(t, v, 2).DraftTitle)

	require.NoError(t, v.CancelEdit(2))
	it := findItem(t, v, 2)
	assert.Equal(t, Viewing, it.State)
	assert.Equal(t, "Task 2", it.Task.Title)
	assert.Equal(t, "", it.Task.Description)
	assert.Len(t, api.Calls(), callsBefore)

	assert.ErrorIs(t, v.CancelEdit(2), ErrNotEditing)
	assert.ErrorIs(t, v.SetDraft(2, "x", ""), ErrNotEditing)
	assert.ErrorIs(t, v.BeginEdit(99), ErrNotInView)
}

func TestView_Save(t *testing.T) {
	api := newFakeAPI(15)
	v := NewView(api, Options{PageSize: 10})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))
	require.NoError(t, v.LoadNext(ctx))
	require.Len(t, v.Items(), 15)

	require.NoError(t, v.BeginEdit(10))
	require.NoError(t, v.SetDraft(10, "  Renamed  ", " details "))
	require.NoError(t, v.Save(ctx, 10))

	calls := api.Calls()
	assert.Equal(t, []string{"edit 10", "refresh 10", `list "" 1`, `list "" 2`}, calls[len(calls)-4:])

	it := findItem(t, v, 10)
	assert.Equal(t, Viewing, it.State)
	assert.Equal(t, "Renamed", it.Task.Title)
	assert.Equal(t, "details", it.Task.Description)
	assert.NotNil(t, it.Task.UpdatedAt)
	assert.Equal(t, "fresh summary of Renamed", it.Task.SummaryText())
	assert.Len(t, v.Items(), 15, "all loaded pages are redrawn")
	assert.Equal(t, []string{"Task updated"}, v.Notifications())
	assert.Empty(t, v.Notifications(), "notifications are drained")

	// summary только что пересчитан, повторный refresh ждёт кулдаун
	callsBefore := len(api.Calls())
	var cooldown *CooldownError
	require.ErrorAs(t, v.Refresh(ctx, 10), &cooldown)
	assert.Len(t, api.Calls(), callsBefore)
}

func TestView_SaveFailureDiscardsEdit(t *testing.T) {
	tests := []struct {
		name       string
		editErr    error
		refreshErr error
		title      string
		wantErr    error
		wantNote   string
	}{
		{
			name:     "edit rejected",
			editErr:  &APIError{Status: http.StatusInternalServerError, Message: "internal error"},
			title:    "New",
			wantNote: "Failed to update task",
		},
		{
			name:       "summary refresh failed",
			refreshErr: errors.New("connection reset"),
			title:      "New",
			wantNote:   "Failed to update task",
		},
		{
			name:     "blank title",
			title:    "   ",
			wantErr:  ErrTitleRequired,
			wantNote: "Enter a title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(2)
			api.editErr = tt.editErr
			api.refreshErr = tt.refreshErr
			v := NewView(api, Options{})
			ctx := context.Background()
			require.NoError(t, v.Reload(ctx, ""))

			require.NoError(t, v.BeginEdit(1))
			require.NoError(t, v.SetDraft(1, tt.title, "d"))

			err := v.Save(ctx, 1)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			it := findItem(t, v, 1)
			assert.Equal(t, Viewing, it.State)
			assert.Equal(t, "Task 1", it.Task.Title)
			assert.Contains(t, v.Notifications(), tt.wantNote)
		})
	}
}

func TestView_RefreshCooldown(t *testing.T) {
	api := newFakeAPI(1)
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	v := NewView(api, Options{Now: clock.Now})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))

	require.NoError(t, v.Refresh(ctx, 1))
	assert.Equal(t, "fresh summary of Task 1", findItem(t, v, 1).Task.SummaryText())

	clock.Advance(2 * time.Second)
	err := v.Refresh(ctx, 1)
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 3*time.Second, cooldown.Wait)
	assert.Equal(t, "please wait 3s before refreshing again", cooldown.Error())

	clock.Advance(3 * time.Second)
	assert.NoError(t, v.Refresh(ctx, 1))
}

func TestView_RefreshCooldownProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cooldown := time.Duration(rapid.Int64Range(1, 10).Draw(t, "cooldownSec")) * time.Second
		elapsed := time.Duration(rapid.Int64Range(0, int64(20*time.Second)).Draw(t, "elapsed"))

		api := newFakeAPI(1)
		clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
		v := NewView(api, Options{Now: clock.Now, Cooldown: cooldown})
		ctx := context.Background()
		if err := v.Reload(ctx, ""); err != nil {
			t.Fatalf("reload: %v", err)
		}
		if err := v.Refresh(ctx, 1); err != nil {
			t.Fatalf("first refresh: %v", err)
		}

		clock.Advance(elapsed)
		before := len(api.Calls())
		err := v.Refresh(ctx, 1)

		var cd *CooldownError
		if elapsed < cooldown {
			if !errors.As(err, &cd) {
				t.Fatalf("expected cooldown rejection after %v, got %v", elapsed, err)
			}
			if cd.Wait != cooldown-elapsed {
				t.Fatalf("wait = %v, want %v", cd.Wait, cooldown-elapsed)
			}
			if len(api.Calls()) != before {
				t.Fatalf("rejected refresh reached the server")
			}
		} else if err != nil {
			t.Fatalf("refresh after %v: %v", elapsed, err)
		}
	})
}

func TestView_RefreshInFlight(t *testing.T) {
	api := newFakeAPI(2)
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))

	api.mu.Lock()
	api.slowQuery = "refresh"
	api.entered = make(chan struct{})
	api.release = make(chan struct{})
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- v.Refresh(ctx, 1) }()
	<-api.entered

	assert.True(t, findItem(t, v, 1).Refreshing)
	assert.ErrorIs(t, v.Refresh(ctx, 1), ErrRefreshInFlight)

	close(api.release)
	require.NoError(t, <-done)
	assert.False(t, findItem(t, v, 1).Refreshing)
}

func TestView_RefreshFailureShowsUnavailable(t *testing.T) {
	api := newFakeAPI(1)
	api.refreshErr = &APIError{Status: http.StatusInternalServerError}
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))

	require.Error(t, v.Refresh(ctx, 1))
	assert.Equal(t, SummaryUnavailable, findItem(t, v, 1).Task.SummaryText())
	assert.Equal(t, []string{"Failed to refresh summary"}, v.Notifications())

	// неудачная попытка не запускает cooldown
	api.mu.Lock()
	api.refreshErr = nil
	api.mu.Unlock()
	assert.NoError(t, v.Refresh(ctx, 1))
}

func TestView_Delete(t *testing.T) {
	tests := []struct {
		name      string
		deleteErr error
		wantErr   bool
		wantIDs   []int64
		wantNote  string
	}{
		{name: "deleted", wantIDs: []int64{3, 1}, wantNote: "Task deleted"},
		{
			name:      "already gone on server",
			deleteErr: &APIError{Status: http.StatusNotFound, Message: "not found"},
			wantIDs:   []int64{3, 1},
			wantNote:  "Task deleted",
		},
		{
			name:      "server error keeps the task",
			deleteErr: &APIError{Status: http.StatusInternalServerError},
			wantErr:   true,
			wantIDs:   []int64{3, 2, 1},
			wantNote:  "Failed to delete task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(3)
			api.deleteErr = tt.deleteErr
			v := NewView(api, Options{})
			ctx := context.Background()
			require.NoError(t, v.Reload(ctx, ""))

			require.NoError(t, v.RequestDelete(2))
			id, ok := v.PendingDelete()
			require.True(t, ok)
			assert.Equal(t, int64(2), id)

			err := v.ConfirmDelete(ctx)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantIDs, ids(v.Items()))
			assert.Equal(t, []string{tt.wantNote}, v.Notifications())

			_, ok = v.PendingDelete()
			assert.False(t, ok)
		})
	}
}

func TestView_CancelDelete(t *testing.T) {
	api := newFakeAPI(2)
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))
	callsBefore := len(api.Calls())

	require.NoError(t, v.RequestDelete(1))
	v.CancelDelete()
	require.NoError(t, v.ConfirmDelete(ctx))

	assert.Len(t, api.Calls(), callsBefore)
	assert.Len(t, v.Items(), 2)
	assert.ErrorIs(t, v.RequestDelete(42), ErrNotInView)
}

func TestView_Create(t *testing.T) {
	api := newFakeAPI(2)
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))

	_, err := v.Create(ctx, "  ", "ignored")
	assert.ErrorIs(t, err, ErrTitleRequired)
	assert.Equal(t, []string{"Enter a title"}, v.Notifications())

	res, err := v.Create(ctx, " Buy milk ", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.ID)

	items := v.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "Buy milk", items[0].Task.Title)
	assert.Equal(t, 1, v.Cursor())
}

func TestView_ReloadKeepsOpenEdits(t *testing.T) {
	api := newFakeAPI(3)
	v := NewView(api, Options{})
	ctx := context.Background()
	require.NoError(t, v.Reload(ctx, ""))

	require.NoError(t, v.BeginEdit(3))
	require.NoError(t, v.SetDraft(3, "draft", ""))
	require.NoError(t, v.Reload(ctx, ""))

	it := findItem(t, v, 3)
	assert.Equal(t, Editing, it.State)
	assert.Equal(t, "draft", it.DraftTitle)

	require.NoError(t, v.CancelEdit(3))
	assert.Equal(t, "Task 3", findItem(t, v, 3).Task.Title)
}
