// Package pipeline runs the phase sequence that turns raw bookmarks
// into a knowledge base: fetch and cache, media analysis, content
// understanding, document creation, store sync, then the corpus-wide
// synthesis, embedding, readme, and export steps. The engine owns phase
// ordering, the failure-rate gate between dependent phases, and the
// per-item outcome plumbing into the item store, the retry manager, and
// the estimator. Item work executes on the task runtime; the engine
// submits batch jobs and collects their outcomes.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/estimate"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/ingest"
	"github.com/curator-ai/curator/internal/kb"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/retry"
	"github.com/curator-ai/curator/internal/store"
)

// Options wires an Engine. Items, Stats, Router, Runtime, Retries,
// Estimator, and DB are required; the rest default from Config. The
// runtime must stay started for the lifetime of every Run call, since
// item batches execute on its workers.
type Options struct {
	Config *config.Config

	Items     *store.ItemStore
	Stats     *store.StatsStore
	Router    *model.Router
	Runtime   *orchestrator.Runtime
	Retries   *retry.Manager
	Estimator *estimate.Estimator
	DB        *db.Store

	// Events receives phase, progress, log, and retry events. Optional.
	Events *events.PublishHelper

	// Source supplies bookmarks. When nil it is built from
	// Config.Sources; a source that cannot be built fails the fetch
	// phase, not engine construction, so fetch-skipping runs still work.
	Source ingest.Source

	// Articles extracts linked pages during caching. Defaults to an
	// extractor with the standard client.
	Articles *ingest.ArticleExtractor

	// Media caches remote attachments. Defaults to a cache under
	// Config.Sources.CacheDir.
	Media *ingest.MediaCache

	// Writer renders knowledge-base documents. Defaults to a writer
	// over Config.KB.
	Writer *kb.Writer

	// Syncer exports the knowledge base after a run. Nil skips the
	// git-sync phase.
	Syncer Syncer

	Logger *slog.Logger
}

// Engine executes pipeline runs.
type Engine struct {
	cfg       *config.Config
	items     *store.ItemStore
	stats     *store.StatsStore
	router    *model.Router
	runtime   *orchestrator.Runtime
	retries   *retry.Manager
	estimator *estimate.Estimator
	db        *db.Store
	events    *events.PublishHelper

	source   ingest.Source
	articles *ingest.ArticleExtractor
	media    *ingest.MediaCache
	writer   *kb.Writer
	syncer   Syncer

	logger *slog.Logger
}

// NewEngine builds an engine from options, filling defaults from the
// config where collaborators are not injected.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, errors.ErrConfigMissing("config")
	}
	if opts.Items == nil || opts.Stats == nil || opts.Router == nil ||
		opts.Runtime == nil || opts.Retries == nil || opts.Estimator == nil || opts.DB == nil {
		return nil, errors.ErrConfigMissing("pipeline engine collaborators")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:       opts.Config,
		items:     opts.Items,
		stats:     opts.Stats,
		router:    opts.Router,
		runtime:   opts.Runtime,
		retries:   opts.Retries,
		estimator: opts.Estimator,
		db:        opts.DB,
		events:    opts.Events,
		source:    opts.Source,
		articles:  opts.Articles,
		media:     opts.Media,
		writer:    opts.Writer,
		syncer:    opts.Syncer,
		logger:    logger,
	}
	if e.events == nil {
		e.events = events.NewPublishHelper(nil)
	}
	if e.source == nil && opts.Config.Sources.Provider != "" {
		src, err := ingest.BuildSource(opts.Config.Sources)
		if err != nil {
			logger.Warn("bookmark source unavailable", "error", err)
		} else {
			e.source = src
		}
	}
	if e.articles == nil {
		e.articles = ingest.NewArticleExtractor(nil)
	}
	if e.media == nil {
		e.media = ingest.NewMediaCache(opts.Config.Sources.CacheDir, nil)
	}
	if e.writer == nil {
		e.writer = kb.NewWriter(opts.Config.KB, logger)
	}
	return e, nil
}

// resolvePhase resolves an inference phase through the router, applying
// the run's per-phase model override when present.
func (e *Engine) resolvePhase(prefs config.RunPreferences, mp model.Phase) (*model.Resolution, error) {
	var override *model.Override
	if ref, ok := prefs.ModelsOverride[string(mp)]; ok {
		override = &model.Override{Provider: ref.Provider, Model: ref.Model}
	}
	return e.router.Resolve(mp, override)
}

// complete issues one completion through the resolved route, walking
// the phase's configured fallback chain when the primary call fails.
func (e *Engine) complete(ctx context.Context, mp model.Phase, res *model.Resolution, req model.Request) (*model.Response, error) {
	attempt := func(r *model.Resolution) (*model.Response, error) {
		call := req
		call.Model = r.Model
		if call.MaxTokens == 0 {
			call.MaxTokens = r.Params.MaxTokens
		}
		if call.Temperature == nil {
			call.Temperature = r.Params.Temperature
		}
		return r.Backend.Complete(ctx, call)
	}

	resp, err := attempt(res)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	for _, fb := range e.router.Fallbacks(mp) {
		e.logger.Warn("walking model fallback",
			"phase", mp, "backend", fb.Backend.Name(), "model", fb.Model, "cause", err)
		resp, err = attempt(fb)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

// textCtx bounds a text completion call.
func (e *Engine) textCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.cfg.Pipeline.TextTimeout
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// visionCtx bounds a vision completion call.
func (e *Engine) visionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.cfg.Pipeline.VisionTimeout
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
