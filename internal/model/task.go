package model

import "time"

// SummaryState tracks where a task is in the summary lifecycle.
type SummaryState string

const (
	SummaryFresh      SummaryState = "fresh"
	SummaryStale      SummaryState = "stale" // content changed, summary not regenerated yet
	SummaryRefreshing SummaryState = "refreshing"
)

type Task struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Summary      *string      `json:"summary"`
	SummaryState SummaryState `json:"summary_state"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    *time.Time   `json:"updated_at"`
}

// SummaryText returns the summary or "" when none was generated yet.
func (t Task) SummaryText() string {
	if t.Summary == nil {
		return ""
	}
	return *t.Summary
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size <= 0:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// StringPtr is a helper for optional text fields.
func StringPtr(s string) *string {
	return &s
}
