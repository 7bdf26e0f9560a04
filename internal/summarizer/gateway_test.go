package summarizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProvider struct {
	complete func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return f.complete(ctx, prompt)
}

func TestGateway_Summarize(t *testing.T) {
	tests := []struct {
		name     string
		complete func(ctx context.Context, prompt string) (string, error)
		want     string
	}{
		{
			name: "trimmed output",
			complete: func(ctx context.Context, prompt string) (string, error) {
				return "  Buy milk on the way home.\n", nil
			},
			want: "Buy milk on the way home.",
		},
		{
			name: "provider error",
			complete: func(ctx context.Context, prompt string) (string, error) {
				return "", errors.New("503 service unavailable")
			},
			want: Unavailable,
		},
		{
			name: "empty output",
			complete: func(ctx context.Context, prompt string) (string, error) {
				return "   ", nil
			},
			want: Unavailable,
		},
		{
			name: "provider panics",
			complete: func(ctx context.Context, prompt string) (string, error) {
				panic("malformed response")
			},
			want: Unavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGateway(&fakeProvider{complete: tt.complete}, GatewayConfig{}, zap.NewNop())
			assert.Equal(t, tt.want, g.Summarize(context.Background(), "Groceries", "milk, eggs"))
		})
	}
}

func TestGateway_PromptContainsTaskFields(t *testing.T) {
	var got string
	g := NewGateway(&fakeProvider{complete: func(ctx context.Context, prompt string) (string, error) {
		got = prompt
		return "ok", nil
	}}, GatewayConfig{}, zap.NewNop())

	g.Summarize(context.Background(), "Quarterly report", "Due Friday")

	assert.Contains(t, got, "Title: Quarterly report")
	assert.Contains(t, got, "Description: Due Friday")
}

func TestGateway_NoProvider(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g := NewGateway(nil, GatewayConfig{}, zap.New(core))

	assert.Equal(t, Unavailable, g.Summarize(context.Background(), "t", "d"))

	entries := logs.FilterMessage("Summary generation failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "none", entries[0].ContextMap()["provider"])
}

func TestGateway_Timeout(t *testing.T) {
	g := NewGateway(&fakeProvider{complete: func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}, GatewayConfig{Timeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	assert.Equal(t, Unavailable, g.Summarize(context.Background(), "t", "d"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGateway_CancelledWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	g := NewGateway(&fakeProvider{complete: func(ctx context.Context, prompt string) (string, error) {
		close(started)
		<-release
		return "done", nil
	}}, GatewayConfig{MaxConcurrency: 1}, zap.NewNop())

	done := make(chan string)
	go func() { done <- g.Summarize(context.Background(), "a", "") }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Unavailable, g.Summarize(ctx, "b", ""))

	close(release)
	assert.Equal(t, "done", <-done)
}

func TestGateway_ConcurrencyCap(t *testing.T) {
	const limit = 2

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	g := NewGateway(&fakeProvider{complete: func(ctx context.Context, prompt string) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	}}, GatewayConfig{MaxConcurrency: limit}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "ok", g.Summarize(context.Background(), "t", "d"))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
}
