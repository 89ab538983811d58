package model

import (
	"log/slog"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
)

// Params are the inference parameters a resolution carries alongside
// the model identifier.
type Params struct {
	// MaxTokens caps the response. Zero defers to the backend default.
	MaxTokens int

	// Temperature overrides the backend default when non-nil.
	Temperature *float64
}

// Resolution is a fully resolved (backend, model, params) triple ready
// to execute.
type Resolution struct {
	Backend Backend
	Model   string
	Params  Params
}

// Override replaces parts of a phase's configured route for one call.
// Zero-valued fields keep the configured value. Provider and Model
// travel together: overriding the provider without naming a model is a
// misconfiguration, since model identifiers are provider-specific.
type Override struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature *float64
}

type route struct {
	provider  string
	model     string
	fallbacks []config.ModelRef
	params    Params
}

// Router resolves inference phases to backends using the routing table
// from configuration. Routes are fixed at construction; Resolve never
// falls back across backends on its own. Fallback chains come from
// config and are exposed separately so callers choose when to walk them.
type Router struct {
	routes   map[Phase]route
	backends map[string]Backend
	logger   *slog.Logger
}

// NewRouter builds a router over the given routing table and registered
// backends. Backends referenced by the table but absent from the map
// surface as resolution errors, not construction errors, so a partially
// credentialed install can still run the phases it has keys for.
func NewRouter(cfg config.ModelsConfig, backends map[string]Backend, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if backends == nil {
		backends = map[string]Backend{}
	}
	routes := map[Phase]route{
		PhaseVision:           routeFromConfig(cfg.Vision),
		PhaseKBGeneration:     routeFromConfig(cfg.KBGeneration),
		PhaseSynthesis:        routeFromConfig(cfg.Synthesis),
		PhaseChat:             routeFromConfig(cfg.Chat),
		PhaseReadmeGeneration: routeFromConfig(cfg.ReadmeGeneration),
		PhaseEmbedding:        routeFromConfig(cfg.Embedding),
	}
	return &Router{routes: routes, backends: backends, logger: logger}
}

func routeFromConfig(pc config.PhaseModelConfig) route {
	return route{
		provider:  pc.Provider,
		model:     pc.Model,
		fallbacks: pc.Fallbacks,
		params: Params{
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		},
	}
}

// Resolve returns the (backend, model, params) triple for a phase. The
// optional override supersedes the configured route for this call only.
// Resolution fails when the phase is unknown, the provider is not
// registered, the route names no model, or the backend lacks a
// capability the phase requires.
func (r *Router) Resolve(phase Phase, override *Override) (*Resolution, error) {
	rt, ok := r.routes[phase]
	if !ok {
		return nil, errors.ErrRouterMisconfigured(string(phase), "unknown inference phase")
	}

	provider := rt.provider
	modelID := rt.model
	params := rt.params
	if override != nil {
		if override.Provider != "" {
			if override.Model == "" {
				return nil, errors.ErrRouterMisconfigured(string(phase),
					"override names a provider but no model")
			}
			provider = override.Provider
		}
		if override.Model != "" {
			modelID = override.Model
		}
		if override.MaxTokens > 0 {
			params.MaxTokens = override.MaxTokens
		}
		if override.Temperature != nil {
			params.Temperature = override.Temperature
		}
	}

	return r.resolve(phase, provider, modelID, params)
}

// Fallbacks resolves the configured fallback chain for a phase, in
// order. Entries whose backend is unregistered or lacks the phase's
// required capability are skipped with a warning; walking the chain is
// the caller's decision.
func (r *Router) Fallbacks(phase Phase) []*Resolution {
	rt, ok := r.routes[phase]
	if !ok {
		return nil
	}
	out := make([]*Resolution, 0, len(rt.fallbacks))
	for _, ref := range rt.fallbacks {
		res, err := r.resolve(phase, ref.Provider, ref.Model, rt.params)
		if err != nil {
			r.logger.Warn("skipping unusable fallback",
				"phase", phase, "provider", ref.Provider, "model", ref.Model, "error", err)
			continue
		}
		out = append(out, res)
	}
	return out
}

// Backend returns a registered backend by name.
func (r *Router) Backend(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Backends returns the capabilities of every registered backend, keyed
// by name. Health checks iterate this to report per-provider status.
func (r *Router) Backends() map[string]Capabilities {
	out := make(map[string]Capabilities, len(r.backends))
	for name, b := range r.backends {
		out[name] = b.Capabilities()
	}
	return out
}

func (r *Router) resolve(phase Phase, provider, modelID string, params Params) (*Resolution, error) {
	if provider == "" {
		return nil, errors.ErrRouterMisconfigured(string(phase), "no provider configured")
	}
	if modelID == "" {
		return nil, errors.ErrRouterMisconfigured(string(phase), "no model configured")
	}
	backend, ok := r.backends[provider]
	if !ok {
		return nil, errors.ErrRouterMisconfigured(string(phase),
			"backend "+provider+" is not registered (missing API key?)")
	}
	caps := backend.Capabilities()
	switch phase {
	case PhaseVision:
		if !caps.SupportsVision {
			return nil, errors.ErrCapabilityMissing(string(phase), provider, "vision input")
		}
	case PhaseEmbedding:
		if caps.EmbeddingDimensions <= 0 {
			return nil, errors.ErrCapabilityMissing(string(phase), provider, "embeddings")
		}
	}
	return &Resolution{Backend: backend, Model: modelID, Params: params}, nil
}
