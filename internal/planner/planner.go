// Package planner splits the item population into per-phase work sets.
// Planning is pure: it reads item records and force flags and never touches
// storage, so the same inputs always produce the same plan.
package planner

import (
	"sort"

	"github.com/curator-ai/curator/internal/item"
)

// ForceFlags requests reprocessing of work that is already complete. Each
// flag widens one phase's needs-processing set; none of them affect
// eligibility. The pipeline engine may set the synthesis and embedding
// flags itself when a run produced new knowledge-base content.
type ForceFlags struct {
	RecacheItems         bool `json:"force_recache_items,omitempty"`
	ReprocessMedia       bool `json:"force_reprocess_media,omitempty"`
	ReprocessLLM         bool `json:"force_reprocess_llm,omitempty"`
	ReprocessKBItem      bool `json:"force_reprocess_kb_item,omitempty"`
	RegenerateSynthesis  bool `json:"force_regenerate_synthesis,omitempty"`
	RegenerateEmbeddings bool `json:"force_regenerate_embeddings,omitempty"`
}

// Any reports whether at least one flag is set.
func (f ForceFlags) Any() bool {
	return f.RecacheItems || f.ReprocessMedia || f.ReprocessLLM ||
		f.ReprocessKBItem || f.RegenerateSynthesis || f.RegenerateEmbeddings
}

// Plan is the work split for one phase. For per-item phases the three
// lists partition the input item set. For the global phases the lists
// carry a single pseudo-entry named after the phase when it should run.
type Plan struct {
	Phase           item.Phase `json:"phase"`
	NeedsProcessing []string   `json:"needs_processing"`
	AlreadyComplete []string   `json:"already_complete"`
	Ineligible      []string   `json:"ineligible"`
}

// ShouldSkip reports whether the phase has nothing to do.
func (p Plan) ShouldSkip() bool {
	return len(p.NeedsProcessing) == 0
}

// PlanPhase classifies every item for the given phase: ineligible when
// prerequisites are unmet, needs-processing when the phase flag is unset
// or forced, already-complete otherwise. Output lists are sorted. Global
// phases return a pseudo-plan keyed off their force flag instead.
func PlanPhase(phase item.Phase, items map[string]*item.Record, flags ForceFlags) Plan {
	plan := Plan{Phase: phase}

	switch phase {
	case item.PhaseSynthesis:
		if flags.RegenerateSynthesis {
			plan.NeedsProcessing = []string{string(phase)}
		}
		return plan
	case item.PhaseEmbedding:
		if flags.RegenerateEmbeddings {
			plan.NeedsProcessing = []string{string(phase)}
		}
		return plan
	}

	for id, rec := range items {
		switch {
		case rec == nil || len(ValidatePrerequisites(phase, rec)) > 0:
			plan.Ineligible = append(plan.Ineligible, id)
		case needsProcessing(phase, rec, flags):
			plan.NeedsProcessing = append(plan.NeedsProcessing, id)
		default:
			plan.AlreadyComplete = append(plan.AlreadyComplete, id)
		}
	}
	sort.Strings(plan.NeedsProcessing)
	sort.Strings(plan.AlreadyComplete)
	sort.Strings(plan.Ineligible)
	return plan
}

// needsProcessing reports whether an eligible item still has work in the
// phase. Regenerating a kb item implies resyncing it, so the kb_item
// force flag also reopens db_sync.
func needsProcessing(phase item.Phase, rec *item.Record, flags ForceFlags) bool {
	switch phase {
	case item.PhaseCache:
		return flags.RecacheItems || !rec.CacheComplete
	case item.PhaseMedia:
		return flags.ReprocessMedia || !rec.MediaProcessed
	case item.PhaseLLM:
		return flags.ReprocessLLM || !rec.CategoriesProcessed
	case item.PhaseKBItem:
		return flags.ReprocessKBItem || !rec.KBItemCreated
	case item.PhaseDBSync:
		return flags.ReprocessKBItem || !rec.DBSynced
	default:
		return false
	}
}

// Prerequisites returns the phases that must complete before the given
// phase can run on an item. The global phases consume finished kb items,
// so the whole per-item chain precedes them.
func Prerequisites(phase item.Phase) []item.Phase {
	switch phase {
	case item.PhaseSynthesis, item.PhaseEmbedding:
		return item.PerItemPhases()
	default:
		return phase.Dependencies()
	}
}

// ValidatePrerequisites lists the unmet prerequisites that keep an item
// out of a phase, in human-readable form. An empty result means the item
// is eligible.
func ValidatePrerequisites(phase item.Phase, rec *item.Record) []string {
	if rec == nil {
		return []string{"record missing"}
	}
	var missing []string
	switch phase {
	case item.PhaseMedia:
		if !rec.CacheComplete {
			missing = append(missing, "cache_complete is false")
		}
		if rec.CacheError != "" {
			missing = append(missing, "cache_error is set")
		}
	case item.PhaseLLM:
		if !rec.CacheComplete {
			missing = append(missing, "cache_complete is false")
		}
		if !rec.MediaProcessed {
			missing = append(missing, "media_processed is false")
		}
		if rec.CacheError != "" {
			missing = append(missing, "cache_error is set")
		}
		if rec.MediaError != "" {
			missing = append(missing, "media_error is set")
		}
	case item.PhaseKBItem:
		if !rec.CategoriesProcessed {
			missing = append(missing, "categories_processed is false")
		}
		if rec.LLMError != "" {
			missing = append(missing, "llm_error is set")
		}
		if rec.MainCategory == "" {
			missing = append(missing, "main_category is empty")
		}
		if rec.ItemNameSuggestion == "" {
			missing = append(missing, "item_name_suggestion is empty")
		}
	case item.PhaseDBSync:
		if !rec.KBItemCreated {
			missing = append(missing, "kb_item_created is false")
		}
		if rec.KBItemPath == "" {
			missing = append(missing, "kb_item_path is empty")
		}
	}
	return missing
}
