// Package gemini provides a model.Backend implementation backed by the
// Google Gemini API via google.golang.org/genai. It serves text,
// vision, and embedding phases.
package gemini

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/curator-ai/curator/internal/model"
)

// Name is the backend identifier used in routing configuration.
const Name = "gemini"

// defaultEmbeddingDims matches gemini-embedding-001.
const defaultEmbeddingDims = 768

// ModelsClient captures the subset of the genai SDK used by the
// adapter, satisfied by client.Models.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is used when a completion request names no model.
	// Ping also targets it.
	DefaultModel string

	// EmbeddingModel is used when an embedding request names no model.
	EmbeddingModel string

	// EmbeddingDimensions reported by Capabilities. Zero falls back to
	// the gemini-embedding-001 width.
	EmbeddingDimensions int

	// TaskType tunes embedding vectors for their retrieval role, e.g.
	// "RETRIEVAL_DOCUMENT" or "SEMANTIC_SIMILARITY" (the default).
	TaskType string
}

// Backend implements model.Backend on top of the Gemini API.
type Backend struct {
	models     ModelsClient
	chatModel  string
	embedModel string
	embedDims  int
	taskType   string
}

// New builds a Gemini-backed model backend from the provided models
// client and options.
func New(models ModelsClient, opts Options) (*Backend, error) {
	if models == nil {
		return nil, errors.New("gemini models client is required")
	}
	dims := opts.EmbeddingDimensions
	if dims <= 0 {
		dims = defaultEmbeddingDims
	}
	return &Backend{
		models:     models,
		chatModel:  opts.DefaultModel,
		embedModel: opts.EmbeddingModel,
		embedDims:  dims,
		taskType:   parseTaskType(opts.TaskType),
	}, nil
}

// NewFromAPIKey constructs a backend using the default genai client.
func NewFromAPIKey(ctx context.Context, apiKey string, opts Options) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, err
	}
	return New(client.Models, opts)
}

func parseTaskType(taskType string) string {
	switch taskType {
	case "SEMANTIC_SIMILARITY", "":
		return "SEMANTIC_SIMILARITY"
	case "CLASSIFICATION":
		return "CLASSIFICATION"
	case "CLUSTERING":
		return "CLUSTERING"
	case "RETRIEVAL_DOCUMENT":
		return "RETRIEVAL_DOCUMENT"
	case "RETRIEVAL_QUERY":
		return "RETRIEVAL_QUERY"
	case "QUESTION_ANSWERING":
		return "QUESTION_ANSWERING"
	default:
		return "SEMANTIC_SIMILARITY"
	}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() model.Capabilities {
	return model.Capabilities{
		SupportsStreaming:   true,
		SupportsVision:      true,
		EmbeddingDimensions: b.embedDims,
	}
}

// Complete issues a GenerateContent call. System messages become the
// system instruction; JSONOnly maps to the application/json response
// MIME type.
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

	config := &genai.GenerateContentConfig{}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			if m.Text != "" {
				config.SystemInstruction = genai.NewContentFromText(m.Text, genai.RoleUser)
			}
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, 1+len(m.Images))
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		for _, img := range m.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MediaType))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	if len(contents) == 0 {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "at least one user/assistant message is required",
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.JSONOnly {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := b.models.GenerateContent(ctx, modelID, contents, config)
	if err != nil {
		return nil, classify(err)
	}
	out := &model.Response{
		Text:  resp.Text(),
		Model: modelID,
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// Embed requests one vector per text. Gemini takes the whole batch in a
// single EmbedContent call.
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
	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := b.models.EmbedContent(ctx, modelID, contents, &genai.EmbedContentConfig{
		TaskType: b.taskType,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(result.Embeddings) != len(req.Texts) {
		return nil, &model.BackendError{
			Backend: Name,
			Kind:    model.KindUnknown,
			Message: "embedding count mismatch",
		}
	}
	vectors := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vectors[i] = emb.Values
	}
	return &model.EmbedResponse{Vectors: vectors, Model: modelID}, nil
}

// Ping issues a one-token completion against the default model.
func (b *Backend) Ping(ctx context.Context) error {
	modelID := b.chatModel
	if modelID == "" {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindInvalidRequest,
			Message: "ping requires a default model",
		}
	}
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	_, err := b.models.GenerateContent(ctx, modelID, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps a genai failure into a typed backend error.
func classify(err error) *model.BackendError {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return &model.BackendError{
			Backend: Name,
			Kind:    model.KindFromStatus(apierr.Code),
			Status:  apierr.Code,
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
