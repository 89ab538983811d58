// Package mock provides a scripted model.Backend for tests. Responses
// are queued ahead of time, failures and latency are injectable, and
// every request is recorded for assertion.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/curator-ai/curator/internal/model"
)

// Backend implements model.Backend with scripted behavior.
type Backend struct {
	mu sync.Mutex

	name string
	caps model.Capabilities

	responses    []string
	defaultText  string
	completeFn   func(ctx context.Context, req model.Request) (*model.Response, error)
	failuresLeft int
	failErr      error
	latency      time.Duration
	pingErr      error

	completeReqs []model.Request
	embedReqs    []model.EmbedRequest
}

// Option configures the mock backend.
type Option func(*Backend)

// WithName overrides the backend name (default "mock").
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithCapabilities replaces the default capabilities.
func WithCapabilities(caps model.Capabilities) Option {
	return func(b *Backend) { b.caps = caps }
}

// WithResponses queues completion texts returned in order. When the
// queue drains, Complete returns the default text.
func WithResponses(texts ...string) Option {
	return func(b *Backend) { b.responses = append(b.responses, texts...) }
}

// WithDefaultText sets the completion text used once the queue drains.
func WithDefaultText(text string) Option {
	return func(b *Backend) { b.defaultText = text }
}

// WithCompleteFunc scripts Complete entirely, bypassing the queue.
func WithCompleteFunc(fn func(ctx context.Context, req model.Request) (*model.Response, error)) Option {
	return func(b *Backend) { b.completeFn = fn }
}

// WithFailures makes the first n Complete and Embed calls fail with err
// before normal behavior resumes.
func WithFailures(n int, err error) Option {
	return func(b *Backend) { b.failuresLeft = n; b.failErr = err }
}

// WithLatency delays every call, honoring context cancellation.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithPingError makes Ping fail.
func WithPingError(err error) Option {
	return func(b *Backend) { b.pingErr = err }
}

// New builds a mock backend. Defaults: name "mock", vision and
// streaming supported, 8-dimensional embeddings, completion text "ok".
func New(opts ...Option) *Backend {
	b := &Backend{
		name: "mock",
		caps: model.Capabilities{
			SupportsStreaming:   true,
			SupportsVision:      true,
			EmbeddingDimensions: 8,
		},
		defaultText: "ok",
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Capabilities() model.Capabilities { return b.caps }

func (b *Backend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.completeReqs = append(b.completeReqs, req)
	if b.failuresLeft > 0 {
		b.failuresLeft--
		err := b.failErr
		b.mu.Unlock()
		return nil, err
	}
	fn := b.completeFn
	text := b.defaultText
	if fn == nil && len(b.responses) > 0 {
		text = b.responses[0]
		b.responses = b.responses[1:]
	}
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &model.Response{
		Text:       text,
		Model:      req.Model,
		StopReason: "end_turn",
		Usage:      model.Usage{InputTokens: 1, OutputTokens: 1},
	}, nil
}

// Embed returns deterministic vectors derived from each text, so equal
// inputs embed equally across calls.
func (b *Backend) Embed(ctx context.Context, req model.EmbedRequest) (*model.EmbedResponse, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.embedReqs = append(b.embedReqs, req)
	if b.failuresLeft > 0 {
		b.failuresLeft--
		err := b.failErr
		b.mu.Unlock()
		return nil, err
	}
	dims := b.caps.EmbeddingDimensions
	b.mu.Unlock()

	if dims <= 0 {
		return nil, &model.BackendError{
			Backend: b.name,
			Kind:    model.KindInvalidRequest,
			Message: "embeddings not supported",
		}
	}
	vectors := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		vectors[i] = deterministicVector(text, dims)
	}
	return &model.EmbedResponse{Vectors: vectors, Model: req.Model}, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return b.pingErr
}

// CompleteRequests returns a copy of every recorded completion request.
func (b *Backend) CompleteRequests() []model.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Request, len(b.completeReqs))
	copy(out, b.completeReqs)
	return out
}

// EmbedRequests returns a copy of every recorded embedding request.
func (b *Backend) EmbedRequests() []model.EmbedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.EmbedRequest, len(b.embedReqs))
	copy(out, b.embedReqs)
	return out
}

func (b *Backend) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(b.latency):
		return nil
	case <-ctx.Done():
		return &model.BackendError{
			Backend: b.name,
			Kind:    model.KindTimeout,
			Message: fmt.Sprintf("call aborted: %v", ctx.Err()),
			Err:     ctx.Err(),
		}
	}
}

func deterministicVector(text string, dims int) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	vec := make([]float32, dims)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/500.0 - 1.0
	}
	return vec
}
