package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

const (
	DefaultPageSize = 10
	DefaultCooldown = 5 * time.Second
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrRefreshInFlight = errors.New("summary refresh already in progress")
	ErrNotInView       = errors.New("task is not loaded")
	ErrNotEditing      = errors.New("task is not being edited")
)

// CooldownError rejects a refresh that came too soon after the previous one.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	secs := int(math.Ceil(e.Wait.Seconds()))
	return fmt.Sprintf("please wait %ds before refreshing again", secs)
}

type ItemState int

const (
	Viewing ItemState = iota
	Editing
	Saving
)

func (s ItemState) String() string {
	switch s {
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	default:
		return "viewing"
	}
}

// Item is a loaded task together with its local edit state.
type Item struct {
	Task             model.Task
	State            ItemState
	DraftTitle       string
	DraftDescription string
	Refreshing       bool
}

type Options struct {
	PageSize int
	Cooldown time.Duration
	Now      func() time.Time
	Location *time.Location
}

type original struct {
	title       string
	description string
}

// View holds everything a task browser shows between requests.
// Network calls are made without holding the lock.
type View struct {
	api      API
	pageSize int
	cooldown time.Duration
	now      func() time.Time
	loc      *time.Location

	mu            sync.Mutex
	items         []Item
	originals     map[int64]original
	cursor        int
	query         string
	loading       bool
	generation    uint64
	exhausted     bool
	expiry        map[int64]time.Time
	refreshing    map[int64]bool
	pendingDelete int64
	notifications []string
}

func NewView(api API, opts Options) *View {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &View{
		api:        api,
		pageSize:   opts.PageSize,
		cooldown:   opts.Cooldown,
		now:        opts.Now,
		loc:        opts.Location,
		originals:  make(map[int64]original),
		cursor:     1,
		expiry:     make(map[int64]time.Time),
		refreshing: make(map[int64]bool),
	}
}

// Items returns a snapshot of the loaded tasks.
func (v *View) Items() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Item, len(v.items))
	copy(out, v.items)
	return out
}

// Rendered returns display-ready rows localized to the view's location.
func (v *View) Rendered() []Rendered {
	items := v.Items()
	now := v.now()

	out := make([]Rendered, 0, len(items))
	for _, it := range items {
		out = append(out, Render(it, now, v.loc))
	}
	return out
}

func (v *View) Query() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.query
}

func (v *View) Cursor() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

func (v *View) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loading
}

// Exhausted reports whether the last page load returned a short page.
func (v *View) Exhausted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exhausted
}

// Reload resets the cursor and replaces the list with page 1 of query.
func (v *View) Reload(ctx context.Context, query string) error {
	v.mu.Lock()
	v.query = query
	v.cursor = 1
	v.generation++
	gen := v.generation
	v.loading = true
	v.exhausted = false
	v.mu.Unlock()

	tasks, err := v.api.List(ctx, query, model.Page{Number: 1, Size: v.pageSize})

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		// пока шёл запрос, пользователь поменял поиск
		return nil
	}
	v.loading = false
	if err != nil {
		v.notifyLocked("Failed to load tasks")
		return err
	}
	v.items = v.mergeLocked(tasks)
	v.exhausted = len(tasks) < v.pageSize
	return nil
}

// LoadNext appends the next page. It is a no-op while another load is in
// flight or after the last page.
func (v *View) LoadNext(ctx context.Context) error {
	v.mu.Lock()
	if v.loading || v.exhausted {
		v.mu.Unlock()
		return nil
	}
	next := v.cursor + 1
	gen := v.generation
	query := v.query
	v.loading = true
	v.mu.Unlock()

	tasks, err := v.api.List(ctx, query, model.Page{Number: next, Size: v.pageSize})

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return nil
	}
	v.loading = false
	if err != nil {
		v.notifyLocked("Failed to load tasks")
		return err
	}
	if len(tasks) < v.pageSize {
		v.exhausted = true
	}
	if len(tasks) == 0 {
		return nil
	}
	v.cursor = next

	seen := make(map[int64]bool, len(v.items))
	for _, it := range v.items {
		seen[it.Task.ID] = true
	}
	for _, it := range v.mergeLocked(tasks) {
		if !seen[it.Task.ID] {
			v.items = append(v.items, it)
		}
	}
	return nil
}

// reloadThrough redraws pages 1..cursor in one pass.
func (v *View) reloadThrough(ctx context.Context) error {
	v.mu.Lock()
	v.generation++
	gen := v.generation
	pages := v.cursor
	query := v.query
	v.loading = true
	v.mu.Unlock()

	var (
		all       []model.Task
		exhausted bool
		loadErr   error
	)
	for p := 1; p <= pages; p++ {
		tasks, err := v.api.List(ctx, query, model.Page{Number: p, Size: v.pageSize})
		if err != nil {
			loadErr = err
			break
		}
		all = append(all, tasks...)
		if len(tasks) < v.pageSize {
			exhausted = true
			break
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.generation {
		return nil
	}
	v.loading = false
	if loadErr != nil {
		v.notifyLocked("Failed to load tasks")
		return loadErr
	}

	seen := make(map[int64]bool, len(all))
	items := make([]Item, 0, len(all))
	for _, it := range v.mergeLocked(all) {
		if !seen[it.Task.ID] {
			seen[it.Task.ID] = true
			items = append(items, it)
		}
	}
	v.items = items
	v.exhausted = exhausted
	return nil
}

// Create posts a new task and reloads the first page.
func (v *View) Create(ctx context.Context, title, description string) (CreateResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		v.notify("Enter a title")
		return CreateResult{}, ErrTitleRequired
	}

	res, err := v.api.Create(ctx, title, strings.TrimSpace(description))
	if err != nil {
		v.notify("Failed to create task")
		return CreateResult{}, err
	}

	if err := v.Reload(ctx, v.Query()); err != nil {
		return res, err
	}
	return res, nil
}

// BeginEdit remembers the current values so CancelEdit can restore them.
func (v *View) BeginEdit(id int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexLocked(id)
	if i < 0 {
		return ErrNotInView
	}
	it := &v.items[i]
	if it.State != Viewing {
		return nil
	}
	v.originals[id] = original{title: it.Task.Title, description: it.Task.Description}
	it.State = Editing
	it.DraftTitle = it.Task.Title
	it.DraftDescription = it.Task.Description
	return nil
}

func (v *View) SetDraft(id int64, title, description string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexLocked(id)
	if i < 0 {
		return ErrNotInView
	}
	if v.items[i].State != Editing {
		return ErrNotEditing
	}
	v.items[i].DraftTitle = title
	v.items[i].DraftDescription = description
	return nil
}

// CancelEdit restores the pre-edit values without touching the server.
func (v *View) CancelEdit(id int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexLocked(id)
	if i < 0 {
		return ErrNotInView
	}
	it := &v.items[i]
	if it.State != Editing {
		return ErrNotEditing
	}
	orig := v.originals[id]
	it.Task.Title = orig.title
	it.Task.Description = orig.description
	it.DraftTitle = ""
	it.DraftDescription = ""
	it.State = Viewing
	delete(v.originals, id)
	return nil
}

// Save sends the draft, asks for a new summary and redraws every loaded page
// so the authoritative timestamps are shown. Any failure discards the edit.
func (v *View) Save(ctx context.Context, id int64) error {
	v.mu.Lock()
	i := v.indexLocked(id)
	if i < 0 {
		v.mu.Unlock()
		return ErrNotInView
	}
	it := &v.items[i]
	if it.State != Editing {
		v.mu.Unlock()
		return ErrNotEditing
	}
	title := strings.TrimSpace(it.DraftTitle)
	description := strings.TrimSpace(it.DraftDescription)
	it.State = Saving
	v.mu.Unlock()

	if title == "" {
		v.discardEdit(id, "Enter a title")
		return ErrTitleRequired
	}

	if _, err := v.api.Edit(ctx, id, title, description); err != nil {
		v.discardEdit(id, "Failed to update task")
		return err
	}
	if _, err := v.api.RefreshSummary(ctx, id); err != nil {
		v.discardEdit(id, "Failed to update task")
		return err
	}

	v.mu.Lock()
	// сохранение тоже пересчитало summary, кулдаун общий с Refresh
	v.expiry[id] = v.now().Add(v.cooldown)
	if i := v.indexLocked(id); i >= 0 {
		v.items[i].Task.Title = title
		v.items[i].Task.Description = description
		v.items[i].State = Viewing
		v.items[i].DraftTitle = ""
		v.items[i].DraftDescription = ""
	}
	delete(v.originals, id)
	v.notifyLocked("Task updated")
	v.mu.Unlock()

	return v.reloadThrough(ctx)
}

func (v *View) discardEdit(id int64, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if i := v.indexLocked(id); i >= 0 {
		orig, ok := v.originals[id]
		if ok {
			v.items[i].Task.Title = orig.title
			v.items[i].Task.Description = orig.description
		}
		v.items[i].State = Viewing
		v.items[i].DraftTitle = ""
		v.items[i].DraftDescription = ""
	}
	delete(v.originals, id)
	v.notifyLocked(msg)
}

// Refresh regenerates one summary. Repeated refreshes of the same task are
// rejected locally until the cooldown passes.
func (v *View) Refresh(ctx context.Context, id int64) error {
	v.mu.Lock()
	now := v.now()
	if exp, ok := v.expiry[id]; ok && now.Before(exp) {
		v.mu.Unlock()
		return &CooldownError{Wait: exp.Sub(now)}
	}
	if v.refreshing[id] {
		v.mu.Unlock()
		return ErrRefreshInFlight
	}
	v.refreshing[id] = true
	v.setRefreshingLocked(id, true)
	v.mu.Unlock()

	res, err := v.api.RefreshSummary(ctx, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.refreshing, id)
	v.setRefreshingLocked(id, false)

	i := v.indexLocked(id)
	if err != nil {
		if i >= 0 {
			v.items[i].Task.Summary = model.StringPtr(SummaryUnavailable)
		}
		v.notifyLocked("Failed to refresh summary")
		return err
	}

	v.expiry[id] = v.now().Add(v.cooldown)
	if i >= 0 {
		v.items[i].Task.Summary = res.Summary
		v.items[i].Task.SummaryState = model.SummaryFresh
		if res.UpdatedAt != nil {
			v.items[i].Task.UpdatedAt = res.UpdatedAt
		}
	}
	return nil
}

// RequestDelete asks for confirmation before the task is deleted.
func (v *View) RequestDelete(id int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.indexLocked(id) < 0 {
		return ErrNotInView
	}
	v.pendingDelete = id
	return nil
}

// PendingDelete returns the task awaiting confirmation, if any.
func (v *View) PendingDelete() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pendingDelete, v.pendingDelete != 0
}

func (v *View) CancelDelete() {
	v.mu.Lock()
	v.pendingDelete = 0
	v.mu.Unlock()
}

// ConfirmDelete deletes the pending task and removes it from the list.
// A task the server no longer knows about is treated as already deleted.
func (v *View) ConfirmDelete(ctx context.Context) error {
	v.mu.Lock()
	id := v.pendingDelete
	v.pendingDelete = 0
	v.mu.Unlock()

	if id == 0 {
		return nil
	}

	if err := v.api.Delete(ctx, id); err != nil && !IsNotFound(err) {
		v.notify("Failed to delete task")
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexLocked(id); i >= 0 {
		v.items = append(v.items[:i], v.items[i+1:]...)
	}
	delete(v.originals, id)
	delete(v.expiry, id)
	v.notifyLocked("Task deleted")
	return nil
}

// Notifications drains pending messages.
func (v *View) Notifications() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := v.notifications
	v.notifications = nil
	return out
}

func (v *View) notify(msg string) {
	v.mu.Lock()
	v.notifyLocked(msg)
	v.mu.Unlock()
}

func (v *View) notifyLocked(msg string) {
	v.notifications = append(v.notifications, msg)
}

func (v *View) indexLocked(id int64) int {
	for i := range v.items {
		if v.items[i].Task.ID == id {
			return i
		}
	}
	return -1
}

func (v *View) setRefreshingLocked(id int64, on bool) {
	if i := v.indexLocked(id); i >= 0 {
		v.items[i].Refreshing = on
	}
}

// mergeLocked builds items from fresh tasks, keeping open edits and
// in-flight refresh markers of tasks that are still present.
func (v *View) mergeLocked(tasks []model.Task) []Item {
	prev := make(map[int64]Item, len(v.items))
	for _, it := range v.items {
		prev[it.Task.ID] = it
	}

	items := make([]Item, 0, len(tasks))
	for _, t := range tasks {
		it := Item{Task: t, Refreshing: v.refreshing[t.ID]}
		if old, ok := prev[t.ID]; ok && old.State != Viewing {
			it.State = old.State
			it.DraftTitle = old.DraftTitle
			it.DraftDescription = old.DraftDescription
		}
		items = append(items, it)
	}
	return items
}
