// Package backends assembles the AI backends referenced by the routing
// configuration. Providers without an API key in the environment are
// skipped with a warning so a partially credentialed install still
// serves the phases it can.
package backends

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/model/backends/anthropic"
	"github.com/curator-ai/curator/internal/model/backends/gemini"
	"github.com/curator-ai/curator/internal/model/backends/mock"
	"github.com/curator-ai/curator/internal/model/backends/openai"
)

// seed carries the default models a provider is constructed with,
// harvested from the routing table.
type seed struct {
	completionModel string
	embeddingModel  string
}

// Build constructs every backend the routing table references, keyed by
// provider name, ready to hand to model.NewRouter.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) map[string]model.Backend {
	if logger == nil {
		logger = slog.Default()
	}
	seeds := collectSeeds(cfg.Models)
	out := make(map[string]model.Backend, len(seeds))
	for name, s := range seeds {
		backend, err := build(ctx, name, s, cfg.Providers)
		if err != nil {
			logger.Warn("skipping backend", "backend", name, "error", err)
			continue
		}
		out[name] = backend
	}
	return out
}

func collectSeeds(mc config.ModelsConfig) map[string]seed {
	seeds := map[string]seed{}
	add := func(provider, modelID string, embedding bool) {
		if provider == "" {
			return
		}
		s := seeds[provider]
		if embedding {
			if s.embeddingModel == "" {
				s.embeddingModel = modelID
			}
		} else if s.completionModel == "" {
			s.completionModel = modelID
		}
		seeds[provider] = s
	}
	addPhase := func(pc config.PhaseModelConfig, embedding bool) {
		add(pc.Provider, pc.Model, embedding)
		for _, ref := range pc.Fallbacks {
			add(ref.Provider, ref.Model, embedding)
		}
	}
	addPhase(mc.Vision, false)
	addPhase(mc.KBGeneration, false)
	addPhase(mc.Synthesis, false)
	addPhase(mc.Chat, false)
	addPhase(mc.ReadmeGeneration, false)
	addPhase(mc.Embedding, true)
	return seeds
}

func build(ctx context.Context, name string, s seed, providers config.ProvidersConfig) (model.Backend, error) {
	switch name {
	case anthropic.Name:
		key, err := apiKey(providers.Anthropic)
		if err != nil {
			return nil, err
		}
		return anthropic.NewFromAPIKey(key, providers.Anthropic.BaseURL, anthropic.Options{
			DefaultModel: s.completionModel,
		})
	case openai.Name:
		key, err := apiKey(providers.OpenAI)
		if err != nil {
			return nil, err
		}
		return openai.NewFromAPIKey(key, providers.OpenAI.BaseURL, openai.Options{
			DefaultModel:   s.completionModel,
			EmbeddingModel: s.embeddingModel,
		})
	case gemini.Name:
		key, err := apiKey(providers.Gemini)
		if err != nil {
			return nil, err
		}
		return gemini.NewFromAPIKey(ctx, key, gemini.Options{
			DefaultModel:   s.completionModel,
			EmbeddingModel: s.embeddingModel,
			TaskType:       "RETRIEVAL_DOCUMENT",
		})
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func apiKey(pc config.ProviderConfig) (string, error) {
	if pc.APIKeyEnv == "" {
		return "", fmt.Errorf("no api key environment variable configured")
	}
	key := os.Getenv(pc.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s is not set", pc.APIKeyEnv)
	}
	return key, nil
}
