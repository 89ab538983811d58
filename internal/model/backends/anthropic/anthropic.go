// Package anthropic provides a model.Backend implementation backed by
// the Anthropic Messages API. It translates neutral requests into
// anthropic.Message calls using github.com/anthropics/anthropic-sdk-go
// and maps SDK failures into classified backend errors. Anthropic does
// not serve embeddings; route the embedding phase elsewhere.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/curator-ai/curator/internal/model"
)

// Name is the backend identifier used in routing configuration.
const Name = "anthropic"

// defaultMaxTokens caps responses when neither the request nor the
// adapter options set a limit. The Messages API rejects max_tokens <= 0.
const defaultMaxTokens = 4096

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so callers can pass
// either a real client or a stub in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is used when a request names no model. Ping also
	// targets it.
	DefaultModel string

	// MaxTokens is the default completion cap. Zero falls back to the
	// package default.
	MaxTokens int
}

// Backend implements model.Backend on top of Anthropic Messages.
type Backend struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New builds an Anthropic-backed model backend from the provided
// Messages client and options.
func New(msg MessagesClient, opts Options) (*Backend, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Backend{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    maxTokens,
	}, nil
}

// NewFromAPIKey constructs a backend using the default Anthropic HTTP
// client. baseURL is optional and overrides the API endpoint.
func NewFromAPIKey(apiKey, baseURL string, opts Options) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	ac := sdk.NewClient(clientOpts...)
	return New(&ac.Messages, opts)
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsStreaming:   true,
		SupportsVision:      true,
		EmbeddingDimensions: 0,
	}
}

// Complete issues a Messages.New request and flattens the response
// blocks into text. Anthropic has no JSON response mode, so JSONOnly is
// satisfied by prompting alone; callers validate the output.
func (b *Backend) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params, err := b.encodeRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := b.msg.New(ctx, *params)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(msg), nil
}

// Embed always fails: the Messages API does not serve embeddings.
func (b *Backend) Embed(context.Context, model.EmbedRequest) (*model.EmbedResponse, error) {
	return nil, &model.BackendError{
		Backend: Name,
		Kind:    model.KindInvalidRequest,
		Message: "embeddings are not available on this backend",
	}
}

// Ping issues a one-token completion against the default model.
func (b *Backend) Ping(ctx context.Context) error {
	modelID := b.defaultModel
	if modelID == "" {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "ping requires a default model",
		}
	}
	_, err := b.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: 1,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock("ping"))},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (b *Backend) encodeRequest(req model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "messages are required",
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = b.defaultModel
	}
	if modelID == "" {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "model identifier is required",
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.maxTokens
	}

	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	system := make([]sdk.TextBlockParam, 0, 1)
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			if m.Text != "" {
				system = append(system, sdk.TextBlockParam{Text: m.Text})
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.Images))
		for _, img := range m.Images {
			encoded := base64.StdEncoding.EncodeToString(img.Data)
			blocks = append(blocks, sdk.NewImageBlockBase64(img.MediaType, encoded))
		}
		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, &model.BackendError{
				Backend: Name,
				Kind:    model.KindInvalidRequest,
				Message: "unsupported message role " + string(m.Role),
			}
		}
	}
	if len(conversation) == 0 {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "at least one user/assistant message is required",
		}
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return &params, nil
}

func translateResponse(msg *sdk.Message) *model.Response {
	var texts []string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return &model.Response{
		Text:       strings.Join(texts, "\n\n"),
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
}

// classify maps an SDK failure into a typed backend error.
func classify(err error) *model.BackendError {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindFromStatus(apierr.StatusCode),
			Status:  apierr.StatusCode,
			Message: apierr.Error(),
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
