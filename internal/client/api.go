// Package client talks to the task HTTP API and keeps the state a browsing
// user interface needs between requests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BuzzLyutic/task-summary-api/internal/model"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type CreateResult struct {
	ID        int64      `json:"id"`
	Summary   *string    `json:"summary"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type EditResult struct {
	Updated   bool       `json:"updated"`
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type SummaryResult struct {
	ID        int64      `json:"id"`
	Summary   *string    `json:"summary"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

// API is the subset of the server the view depends on.
type API interface {
	List(ctx context.Context, query string, page model.Page) ([]model.Task, error)
	Create(ctx context.Context, title, description string) (CreateResult, error)
	Edit(ctx context.Context, id int64, title, description string) (EditResult, error)
	RefreshSummary(ctx context.Context, id int64) (SummaryResult, error)
	Delete(ctx context.Context, id int64) error
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) List(ctx context.Context, query string, page model.Page) ([]model.Task, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page.Number))
	params.Set("limit", strconv.Itoa(page.Size))
	if query != "" {
		params.Set("query", query)
	}

	var tasks []model.Task
	err := c.do(ctx, http.MethodGet, "/tasks?"+params.Encode(), nil, nil, &tasks)
	return tasks, err
}

func (c *Client) Get(ctx context.Context, id int64) (model.Task, error) {
	var task model.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/task/%d", id), nil, nil, &task)
	return task, err
}

// Create отправляет задачу с ключом идемпотентности, чтобы повтор запроса не создал дубликат
func (c *Client) Create(ctx context.Context, title, description string) (CreateResult, error) {
	body := map[string]string{"title": title, "description": description}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	var out CreateResult
	err := c.do(ctx, http.MethodPost, "/task", body, headers, &out)
	return out, err
}

func (c *Client) Edit(ctx context.Context, id int64, title, description string) (EditResult, error) {
	body := map[string]string{"title": title, "description": description}

	var out EditResult
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/task/%d", id), body, nil, &out)
	return out, err
}

func (c *Client) RefreshSummary(ctx context.Context, id int64) (SummaryResult, error) {
	var out SummaryResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/task/%d/refresh-summary", id), nil, nil, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/task/%d", id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

var _ API = (*Client)(nil)
