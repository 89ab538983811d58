// Package openai provides a model.Backend implementation backed by the
// OpenAI Chat Completions and Embeddings APIs, using
// github.com/sashabaranov/go-openai. It serves text, vision, and
// embedding phases.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/curator-ai/curator/internal/model"
)

// Name is the backend identifier used in routing configuration.
const Name = "openai"

// defaultEmbeddingDims matches text-embedding-3-small.
const defaultEmbeddingDims = 1536

// Client captures the subset of the go-openai client used by the
// adapter, satisfied by *openai.Client.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is used when a completion request names no model.
	DefaultModel string

	// EmbeddingModel is used when an embedding request names no model.
	EmbeddingModel string

	// EmbeddingDimensions reported by Capabilities. Zero falls back to
	// the text-embedding-3-small width.
	EmbeddingDimensions int
}

// Backend implements model.Backend via the OpenAI API.
type Backend struct {
	client     Client
	chatModel  string
	embedModel string
	embedDims  int
}

// New builds an OpenAI-backed model backend.
func New(client Client, opts Options) (*Backend, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	dims := opts.EmbeddingDimensions
	if dims <= 0 {
		dims = defaultEmbeddingDims
	}
	return &Backend{
		client:     client,
		chatModel:  opts.DefaultModel,
		embedModel: opts.EmbeddingModel,
		embedDims:  dims,
	}, nil
}

// NewFromAPIKey constructs a backend using the default go-openai HTTP
// client. baseURL is optional and overrides the API endpoint, which
// also makes the adapter usable against OpenAI-compatible servers.
func NewFromAPIKey(apiKey, baseURL string, opts Options) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return New(openai.NewClientWithConfig(cfg), opts)
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsStreaming:   true,
		SupportsVision:      true,
		EmbeddingDimensions: b.embedDims,
	}
}

// Complete renders a chat completion. Images ride along as base64 data
// URLs in multi-part content; JSONOnly maps to the json_object response
// format.
func (b *Backend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if len(req.Messages) == 0 {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "messages are required",
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = b.chatModel
	}
	if modelID == "" {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "model identifier is required",
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, encodeMessage(m))
	}
	request := openai.ChatCompletionRequest{
		Model:     modelID,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		request.Temperature = float32(*req.Temperature)
	}
	if req.JSONOnly {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	response, err := b.client.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(response), nil
}

// Embed requests one vector per text through the Embeddings API.
func (b *Backend) Embed(ctx context.Context, req model.EmbedRequest) (*model.EmbedResponse, error) {
	if len(req.Texts) == 0 {
		return &model.EmbedResponse{Model: req.Model}, nil
	}
	modelID := req.Model
	if modelID == "" {
		modelID = b.embedModel
	}
	if modelID == "" {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "embedding model identifier is required",
		}
	}
	response, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: req.Texts,
		Model: openai.EmbeddingModel(modelID),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(response.Data) != len(req.Texts) {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindUnknown,
			Message: fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors",
				len(req.Texts), len(response.Data)),
		}
	}
	vectors := make([][]float32, len(response.Data))
	for i, d := range response.Data {
		vectors[i] = d.Embedding
	}
	return &model.EmbedResponse{
		Vectors: vectors,
		Model:   string(response.Model),
		Usage: model.Usage{
			InputTokens: response.Usage.PromptTokens,
		},
	}, nil
}

// Ping lists models, which verifies both reachability and credentials
// without spending completion tokens.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.client.ListModels(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func encodeMessage(m model.Message) openai.ChatCompletionMessage {
	role := string(m.Role)
	if len(m.Images) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: m.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, 1+len(m.Images))
	if m.Text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: m.Text,
		})
	}
	for _, img := range m.Images {
		url := fmt.Sprintf("data:%s;base64,%s",
			img.MediaType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    url,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func translateResponse(resp openai.ChatCompletionResponse) *model.Response {
	text := ""
	stop := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		stop = string(resp.Choices[0].FinishReason)
	}
	return &model.Response{
		Text:       text,
		Model:      resp.Model,
		StopReason: stop,
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// classify maps a go-openai failure into a typed backend error.
func classify(err error) *model.BackendError {
	var apierr *openai.APIError
	if errors.As(err, &apierr) {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindFromStatus(apierr.HTTPStatusCode),
			Status:  apierr.HTTPStatusCode,
			Message: apierr.Message,
			Err:     err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindTimeout,
			Message: err.Error(),
			Err:     err,
		}
	}
	return &model.BackendError{
		Backend: Name,
		Kind:    model.KindUnknown,
		Message: err.Error(),
		Err:     err,
	}
}
