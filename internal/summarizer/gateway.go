// Package summarizer turns a task's title and description into a short
// natural-language summary using an external language model.
package summarizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Unavailable is stored as the summary when generation fails.
const Unavailable = "Summary unavailable"

const (
	DefaultMaxConcurrency = 4
	DefaultTimeout        = 60 * time.Second
)

var ErrNoProvider = errors.New("no summarizer provider configured")

var promptTemplate = template.Must(template.New("prompt").Parse(
	`Write a short summary (one or two sentences) for a task:
Title: {{.Title}}
Description: {{.Description}}`))

// Summarizer is what the service and the worker pool depend on.
type Summarizer interface {
	Summarize(ctx context.Context, title, description string) string
}

// Provider is a single language-model backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

type GatewayConfig struct {
	MaxConcurrency int
	Timeout        time.Duration
}

// Gateway wraps a Provider: caps concurrent calls, applies a timeout and
// folds every failure into the Unavailable sentinel.
type Gateway struct {
	provider Provider
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *zap.Logger
}

func NewGateway(provider Provider, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gateway{
		provider: provider,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

func (g *Gateway) Summarize(ctx context.Context, title, description string) string {
	start := time.Now()

	summary, err := g.summarize(ctx, title, description)
	if err != nil {
		g.logger.Warn("Summary generation failed",
			zap.String("provider", g.providerName()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		return Unavailable
	}

	g.logger.Debug("Summary generated",
		zap.String("provider", g.providerName()),
		zap.Duration("took", time.Since(start)),
	)
	return summary
}

func (g *Gateway) summarize(ctx context.Context, title, description string) (summary string, err error) {
	if g.provider == nil {
		return "", ErrNoProvider
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for summarizer slot: %w", err)
	}
	defer g.sem.Release(1)

	// Паника в SDK провайдера не должна уронить запрос
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()

	prompt, err := buildPrompt(title, description)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.provider.Complete(callCtx, prompt)
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", errors.New("empty response")
	}
	return out, nil
}

func (g *Gateway) providerName() string {
	if g.provider == nil {
		return "none"
	}
	return g.provider.Name()
}

func buildPrompt(title, description string) (string, error) {
	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, struct {
		Title       string
		Description string
	}{Title: title, Description: description})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

var _ Summarizer = (*Gateway)(nil)
