// Package tui is an interactive terminal browser for tasks.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BuzzLyutic/task-summary-api/internal/client"
)

type mode int

const (
	modeList mode = iota
	modeSearch
	modeForm
	modeConfirmDelete
)

const (
	fieldTitle = iota
	fieldDescription
	fieldCount
)

// opDoneMsg is sent when a request to the server finishes.
type opDoneMsg struct {
	op  string
	err error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			BorderForeground(lipgloss.Color("240")).
			PaddingLeft(1)

	selectedItemStyle = itemStyle.
				BorderForeground(lipgloss.Color("62"))

	taskTitleStyle  = lipgloss.NewStyle().Bold(true)
	summaryStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("109"))
	timeStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	recentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	fieldStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	activeField     = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	confirmStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	refreshingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
)

// Model is the bubbletea model over a client.View.
type Model struct {
	view *client.View
	ctx  context.Context

	mode     mode
	selected int
	anchor   int64 // id выбранной задачи, переживает перезагрузку списка

	search string

	formTitle       string
	formDescription string
	formField       int
	editingID       int64 // 0 при создании новой задачи

	status string
	err    error
	width  int
	height int
}

func New(view *client.View) Model {
	return NewWithContext(context.Background(), view)
}

// NewWithContext lets the caller cancel in-flight requests.
func NewWithContext(ctx context.Context, view *client.View) Model {
	return Model{view: view, ctx: ctx}
}

func (m Model) Init() tea.Cmd {
	return m.run("load", func(ctx context.Context) error {
		return m.view.Reload(ctx, "")
	})
}

func (m Model) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case opDoneMsg:
		return m.handleDone(msg), nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeSearch:
			return m.updateSearch(msg)
		case modeForm:
			return m.updateForm(msg)
		case modeConfirmDelete:
			return m.updateConfirm(msg)
		default:
			return m.updateList(msg)
		}
	}
	return m, nil
}

func (m Model) handleDone(msg opDoneMsg) Model {
	notes := m.view.Notifications()
	m.err = nil
	switch {
	case len(notes) > 0:
		m.status = notes[len(notes)-1]
	case msg.err != nil:
		m.status = ""
	}
	if msg.err != nil {
		var cooldown *client.CooldownError
		if errors.As(msg.err, &cooldown) || errors.Is(msg.err, client.ErrRefreshInFlight) {
			m.status = msg.err.Error()
		} else {
			m.err = msg.err
		}
	}

	items := m.view.Items()
	if msg.op == "next" && msg.err == nil && m.selected < len(items)-1 {
		m.selected++
		m.anchor = items[m.selected].Task.ID
		return m
	}
	m.restoreSelection(items)
	return m
}

func (m *Model) restoreSelection(items []client.Item) {
	for i, it := range items {
		if it.Task.ID == m.anchor {
			m.selected = i
			return
		}
	}
	if m.selected >= len(items) {
		m.selected = len(items) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	if len(items) > 0 {
		m.anchor = items[m.selected].Task.ID
	}
}

func (m Model) current() (client.Item, bool) {
	items := m.view.Items()
	if m.selected < 0 || m.selected >= len(items) {
		return client.Item{}, false
	}
	return items[m.selected], true
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := m.view.Items()

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "j", "down":
		if m.selected < len(items)-1 {
			m.selected++
			m.anchor = items[m.selected].Task.ID
			return m, nil
		}
		// дошли до конца списка, подгружаем следующую страницу
		if m.view.Exhausted() || m.view.Loading() {
			return m, nil
		}
		return m, m.run("next", m.view.LoadNext)

	case "k", "up":
		if m.selected > 0 {
			m.selected--
			m.anchor = items[m.selected].Task.ID
		}
		return m, nil

	case "/":
		m.mode = modeSearch
		m.search = m.view.Query()
		return m, nil

	case "n":
		m.mode = modeForm
		m.editingID = 0
		m.formTitle, m.formDescription = "", ""
		m.formField = fieldTitle
		return m, nil

	case "e":
		it, ok := m.current()
		if !ok {
			return m, nil
		}
		if err := m.view.BeginEdit(it.Task.ID); err != nil {
			m.err = err
			return m, nil
		}
		m.mode = modeForm
		m.editingID = it.Task.ID
		m.formTitle, m.formDescription = it.Task.Title, it.Task.Description
		m.formField = fieldTitle
		return m, nil

	case "r":
		it, ok := m.current()
		if !ok {
			return m, nil
		}
		id := it.Task.ID
		return m, m.run("refresh", func(ctx context.Context) error {
			return m.view.Refresh(ctx, id)
		})

	case "d":
		it, ok := m.current()
		if !ok {
			return m, nil
		}
		if err := m.view.RequestDelete(it.Task.ID); err != nil {
			m.err = err
			return m, nil
		}
		m.mode = modeConfirmDelete
		return m, nil
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.mode = modeList
		return m, nil
	case tea.KeyBackspace:
		if m.search == "" {
			return m, nil
		}
		r := []rune(m.search)
		m.search = string(r[:len(r)-1])
	case tea.KeyRunes, tea.KeySpace:
		m.search += string(msg.Runes)
	default:
		return m, nil
	}

	// каждое нажатие перезагружает первую страницу
	query := m.search
	m.selected = 0
	m.anchor = 0
	return m, m.run("search", func(ctx context.Context) error {
		return m.view.Reload(ctx, query)
	})
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		if m.editingID != 0 {
			_ = m.view.CancelEdit(m.editingID)
		}
		m.mode = modeList
		m.editingID = 0
		return m, nil

	case tea.KeyTab:
		m.formField = (m.formField + 1) % fieldCount
		return m, nil

	case tea.KeyEnter:
		title, description := m.formTitle, m.formDescription
		m.mode = modeList
		if m.editingID == 0 {
			m.selected = 0
			m.anchor = 0
			return m, m.run("create", func(ctx context.Context) error {
				_, err := m.view.Create(ctx, title, description)
				return err
			})
		}
		id := m.editingID
		m.editingID = 0
		if err := m.view.SetDraft(id, title, description); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.run("save", func(ctx context.Context) error {
			return m.view.Save(ctx, id)
		})

	case tea.KeyBackspace:
		m.setField(trimLastRune(m.field()))
	case tea.KeyRunes, tea.KeySpace:
		m.setField(m.field() + string(msg.Runes))
	default:
		return m, nil
	}

	if m.editingID != 0 {
		_ = m.view.SetDraft(m.editingID, m.formTitle, m.formDescription)
	}
	return m, nil
}

func (m Model) field() string {
	if m.formField == fieldDescription {
		return m.formDescription
	}
	return m.formTitle
}

func (m *Model) setField(s string) {
	if m.formField == fieldDescription {
		m.formDescription = s
		return
	}
	m.formTitle = s
}

func trimLastRune(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	return string(r[:len(r)-1])
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = modeList
		return m, m.run("delete", m.view.ConfirmDelete)
	case "n", "N", "esc":
		m.view.CancelDelete()
		m.mode = modeList
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(" Tasks "))
	b.WriteString("\n\n")

	if m.mode == modeSearch || m.view.Query() != "" {
		search := m.search
		if m.mode != modeSearch {
			search = m.view.Query()
		}
		b.WriteString(fmt.Sprintf("Search: %s", client.Sanitize(search)))
		if m.mode == modeSearch {
			b.WriteString("█")
		}
		b.WriteString("\n\n")
	}

	if m.mode == modeForm {
		b.WriteString(m.renderForm())
		b.WriteString("\n")
	}

	rows := m.view.Rendered()
	if len(rows) == 0 {
		b.WriteString("  No tasks found.\n")
	}
	for i, r := range rows {
		b.WriteString(m.renderRow(i, r))
		b.WriteString("\n")
	}
	if m.view.Loading() {
		b.WriteString(helpStyle.Render("  Loading..."))
		b.WriteString("\n")
	}

	if m.mode == modeConfirmDelete {
		if id, ok := m.view.PendingDelete(); ok {
			b.WriteString(confirmStyle.Render(fmt.Sprintf("Delete task #%d? (y/n)", id)))
			b.WriteString("\n")
		}
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(m.help()))
	return b.String()
}

func (m Model) renderRow(i int, r client.Rendered) string {
	var b strings.Builder
	b.WriteString(taskTitleStyle.Render(r.Title))
	if r.Description != "" {
		b.WriteString("\n")
		b.WriteString(r.Description)
	}
	b.WriteString("\n")
	if r.Refreshing {
		b.WriteString(refreshingStyle.Render("refreshing summary..."))
	} else {
		b.WriteString(summaryStyle.Render(r.Summary))
	}
	b.WriteString("\n")
	b.WriteString(timeStyle.Render("Created " + r.Created))
	if r.Updated != "" {
		b.WriteString(timeStyle.Render(" · Updated " + r.Updated))
		if r.Recent {
			b.WriteString(" ")
			b.WriteString(recentStyle.Render("recent"))
		}
	}

	style := itemStyle
	if i == m.selected {
		style = selectedItemStyle
	}
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	return style.Render(b.String())
}

func (m Model) renderForm() string {
	heading := "New task"
	if m.editingID != 0 {
		heading = fmt.Sprintf("Edit task #%d", m.editingID)
	}

	label := func(field int, name, value string) string {
		style := fieldStyle
		cursor := ""
		if m.formField == field {
			style = activeField
			cursor = "█"
		}
		return style.Render(name+": ") + client.Sanitize(value) + cursor
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		taskTitleStyle.Render(heading),
		label(fieldTitle, "Title", m.formTitle),
		label(fieldDescription, "Description", m.formDescription),
	) + "\n"
}

func (m Model) help() string {
	switch m.mode {
	case modeSearch:
		return "type to search | enter/esc: back to list"
	case modeForm:
		return "tab: switch field | enter: save | esc: cancel"
	case modeConfirmDelete:
		return "y: delete | n: keep"
	default:
		return "j/k: move | /: search | n: new | e: edit | r: refresh summary | d: delete | q: quit"
	}
}
