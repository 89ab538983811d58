// Package model routes inference phases to AI backends and defines the
// request/response types the backends translate into vendor SDK calls.
// Backend adapters live in the backends/ subpackages; this package holds
// the contract they implement and the Router that picks between them.
package model

import (
	"context"
)

// Phase identifies one inference workload with its own routing entry.
type Phase string

const (
	// PhaseVision analyzes cached images during media processing.
	PhaseVision Phase = "vision"
	// PhaseKBGeneration writes knowledge-base documents from item content.
	PhaseKBGeneration Phase = "kb_generation"
	// PhaseSynthesis aggregates per-category items into synthesis documents.
	PhaseSynthesis Phase = "synthesis"
	// PhaseChat answers interactive questions over the knowledge base.
	PhaseChat Phase = "chat"
	// PhaseReadmeGeneration produces the knowledge-base index document.
	PhaseReadmeGeneration Phase = "readme_generation"
	// PhaseEmbedding produces vectors for semantic search.
	PhaseEmbedding Phase = "embedding"
)

// Phases returns every routable inference phase.
func Phases() []Phase {
	return []Phase{
		PhaseVision,
		PhaseKBGeneration,
		PhaseSynthesis,
		PhaseChat,
		PhaseReadmeGeneration,
		PhaseEmbedding,
	}
}

// Valid reports whether p names a known inference phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseVision, PhaseKBGeneration, PhaseSynthesis,
		PhaseChat, PhaseReadmeGeneration, PhaseEmbedding:
		return true
	}
	return false
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attachment. Adapters base64-encode the bytes
// in whatever envelope their provider expects.
type Image struct {
	// MediaType is the MIME type, e.g. "image/png".
	MediaType string

	// Data is the raw image bytes.
	Data []byte
}

// Message is one turn of a completion request. System messages carry
// instructions; adapters that separate system prompts from the
// conversation (Anthropic, Gemini) lift them out during encoding.
type Message struct {
	Role   Role
	Text   string
	Images []Image
}

// Request is a provider-neutral completion request.
type Request struct {
	// Model overrides the backend default when non-empty.
	Model string

	// Messages is the conversation, oldest first.
	Messages []Message

	// MaxTokens caps the response. Zero uses the backend default.
	MaxTokens int

	// Temperature overrides the backend default when non-nil.
	Temperature *float64

	// JSONOnly asks the backend for a JSON-typed response where the
	// provider supports it. Backends without a JSON mode ignore it;
	// callers must still validate the output.
	JSONOnly bool
}

// Response is a provider-neutral completion result.
type Response struct {
	// Text is the concatenated assistant output.
	Text string

	// Model is the concrete model that produced the response.
	Model string

	// StopReason is the provider's stop reason verbatim.
	StopReason string

	Usage Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// EmbedRequest asks for one vector per input text, in order.
type EmbedRequest struct {
	// Model overrides the backend default when non-empty.
	Model string

	Texts []string
}

// EmbedResponse carries one vector per requested text, same order.
type EmbedResponse struct {
	Vectors [][]float32
	Model   string
	Usage   Usage
}

// Capabilities describes what a backend can do. The Router consults it
// before handing a backend to a phase that needs a capability.
type Capabilities struct {
	SupportsStreaming bool
	SupportsVision    bool

	// EmbeddingDimensions is the vector width, or zero when the backend
	// does not provide embeddings.
	EmbeddingDimensions int
}

// Backend is one AI provider. Implementations translate the neutral
// request types into vendor SDK calls and map vendor failures into
// *BackendError so retry classification can work from the typed kind.
type Backend interface {
	// Name returns the stable backend identifier used in routing config.
	Name() string

	// Complete performs a text (optionally multimodal) completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Embed produces embedding vectors. Backends with
	// Capabilities().EmbeddingDimensions == 0 return a *BackendError.
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)

	// Capabilities reports what the backend supports.
	Capabilities() Capabilities

	// Ping verifies the backend is reachable and credentialed.
	Ping(ctx context.Context) error
}
