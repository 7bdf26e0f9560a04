package client

import (
	"html/template"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	AwaitingSummary    = "— awaiting summary —"
	SummaryUnavailable = "— summary unavailable —"

	timeLayout   = "2006-01-02 15:04"
	recentWindow = 24 * time.Hour
)

// Rendered is one task prepared for display.
type Rendered struct {
	ID          int64
	Title       string
	Description string
	Summary     string
	Created     string
	Updated     string // пусто, если задача не обновлялась
	Recent      bool
	State       ItemState
	Refreshing  bool
}

// Render sanitizes user-supplied fields and localizes timestamps to loc.
func Render(it Item, now time.Time, loc *time.Location) Rendered {
	if loc == nil {
		loc = time.Local
	}
	t := it.Task

	r := Rendered{
		ID:          t.ID,
		Title:       Sanitize(t.Title),
		Description: Sanitize(t.Description),
		Summary:     Sanitize(strings.TrimSpace(t.SummaryText())),
		Created:     t.CreatedAt.In(loc).Format(timeLayout),
		State:       it.State,
		Refreshing:  it.Refreshing,
	}
	if r.Summary == "" {
		r.Summary = AwaitingSummary
	}
	if it.State != Viewing {
		r.Title = Sanitize(it.DraftTitle)
		r.Description = Sanitize(it.DraftDescription)
	}
	if t.UpdatedAt != nil {
		r.Updated = t.UpdatedAt.In(loc).Format(timeLayout)
		r.Recent = now.Sub(*t.UpdatedAt) < recentWindow
	}
	return r
}

var ansiPattern = regexp.MustCompile(`\x1b(\[[0-?]*[ -/]*[@-~]|\][^\x07\x1b]*(\x07|\x1b\\)|[@-Z\\-_])`)

// Sanitize strips terminal escape sequences and control characters.
// Newlines and tabs are kept.
func Sanitize(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

var listTemplate = template.Must(template.New("tasks").Parse(`<ul class="tasks">
{{- range .}}
  <li data-id="{{.ID}}">
    <h3>{{.Title}}</h3>
    <p class="description">{{.Description}}</p>
    <p class="summary">{{.Summary}}</p>
    <small>Created {{.Created}}{{if .Updated}} · Updated {{.Updated}}{{if .Recent}} (recent){{end}}{{end}}</small>
  </li>
{{- end}}
</ul>
`))

// RenderHTML writes rendered tasks as an escaped HTML list.
func RenderHTML(w io.Writer, rows []Rendered) error {
	return listTemplate.Execute(w, rows)
}
