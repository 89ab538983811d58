package gemini

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/curator-ai/curator/internal/model"
)

type stubModels struct {
	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
	genResp      *genai.GenerateContentResponse
	genErr       error
	embedResp    *genai.EmbedContentResponse
	embedErr     error
}

func (s *stubModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.lastModel = model
	s.lastContents = contents
	s.lastConfig = config
	return s.genResp, s.genErr
}

func (s *stubModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	s.lastModel = model
	s.lastContents = contents
	return s.embedResp, s.embedErr
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content:      &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(text)}},
				FinishReason: genai.FinishReasonStop,
			},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     9,
			CandidatesTokenCount: 4,
		},
	}
}

func TestComplete_Text(t *testing.T) {
	stub := &stubModels{genResp: textResponse("a summary")}
	b, err := New(stub, Options{DefaultModel: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := b.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Text: "be brief"},
			{Role: model.RoleUser, Text: "summarize"},
		},
		MaxTokens: 200,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "a summary" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if stub.lastModel != "gemini-2.0-flash" {
		t.Errorf("model = %q", stub.lastModel)
	}

	// The system turn becomes the system instruction, not conversation.
	if stub.lastConfig.SystemInstruction == nil {
		t.Error("system instruction should be set")
	}
	if len(stub.lastContents) != 1 {
		t.Errorf("contents = %d, want 1", len(stub.lastContents))
	}
	if stub.lastConfig.MaxOutputTokens != 200 {
		t.Errorf("MaxOutputTokens = %d, want 200", stub.lastConfig.MaxOutputTokens)
	}
}

func TestComplete_JSONMode(t *testing.T) {
	stub := &stubModels{genResp: textResponse(`{}`)}
	b, err := New(stub, Options{DefaultModel: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = b.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "json please"}},
		JSONOnly: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if stub.lastConfig.ResponseMIMEType != "application/json" {
		t.Errorf("ResponseMIMEType = %q, want application/json", stub.lastConfig.ResponseMIMEType)
	}
}

func TestComplete_ClassifiesAPIError(t *testing.T) {
	stub := &stubModels{genErr: genai.APIError{Code: 429, Message: "quota exceeded"}}
	b, err := New(stub, Options{DefaultModel: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = b.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Text: "hello"}},
	})
	var be *model.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want *model.BackendError", err)
	}
	if be.Kind != model.KindRateLimited || be.Status != 429 {
		t.Errorf("classified as (%s, %d), want (rate_limited, 429)", be.Kind, be.Status)
	}
}

func TestEmbed(t *testing.T) {
	stub := &stubModels{
		embedResp: &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{
				{Values: []float32{0.1, 0.2}},
				{Values: []float32{0.3, 0.4}},
			},
		},
	}
	b, err := New(stub, Options{EmbeddingModel: "gemini-embedding-001"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := b.Embed(context.Background(), model.EmbedRequest{Texts: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(resp.Vectors) != 2 || resp.Vectors[0][1] != 0.2 {
		t.Errorf("Vectors = %+v", resp.Vectors)
	}
	if stub.lastModel != "gemini-embedding-001" {
		t.Errorf("model = %q", stub.lastModel)
	}
	if len(stub.lastContents) != 2 {
		t.Errorf("contents = %d, want one per text", len(stub.lastContents))
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	stub := &stubModels{
		embedResp: &genai.EmbedContentResponse{
			Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1}}},
		},
	}
	b, err := New(stub, Options{EmbeddingModel: "gemini-embedding-001"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Embed(context.Background(), model.EmbedRequest{Texts: []string{"a", "b"}}); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestPing_RequiresModel(t *testing.T) {
	stub := &stubModels{genResp: textResponse("pong")}
	b, err := New(stub, Options{DefaultModel: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	noModel, err := New(&stubModels{}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := noModel.Ping(context.Background()); err == nil {
		t.Error("Ping without a default model should fail")
	}
}

func TestCapabilities(t *testing.T) {
	b, err := New(&stubModels{}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	caps := b.Capabilities()
	if !caps.SupportsVision || caps.EmbeddingDimensions != defaultEmbeddingDims {
		t.Errorf("Capabilities = %+v", caps)
	}
}
