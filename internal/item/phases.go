// Package item provides the per-item state model for curator's pipeline.
package item

// Phase identifies a pipeline phase from the item store's point of view.
// The five per-item phases each own a completion flag and an error
// annotation on the record; synthesis and embedding are global phases that
// track no per-item state.
type Phase string

const (
	// PhaseCache covers bookmark fetch and content caching.
	PhaseCache Phase = "cache"
	// PhaseMedia covers media download and vision analysis.
	PhaseMedia Phase = "media"
	// PhaseLLM covers content understanding and categorization.
	PhaseLLM Phase = "llm"
	// PhaseKBItem covers knowledge-base document creation.
	PhaseKBItem Phase = "kb_item"
	// PhaseDBSync covers syncing the created document back to the store.
	PhaseDBSync Phase = "db_sync"
	// PhaseSynthesis is the global per-category digest phase.
	PhaseSynthesis Phase = "synthesis"
	// PhaseEmbedding is the global vector index phase.
	PhaseEmbedding Phase = "embedding"
)

// perItemOrder is the dependency chain for the per-item phases. A later
// flag cannot be true while an earlier one is false.
var perItemOrder = []Phase{PhaseCache, PhaseMedia, PhaseLLM, PhaseKBItem, PhaseDBSync}

// PerItemPhases returns the per-item phases in dependency order.
func PerItemPhases() []Phase {
	out := make([]Phase, len(perItemOrder))
	copy(out, perItemOrder)
	return out
}

// GlobalPhases returns the phases with no per-item completion tracking.
func GlobalPhases() []Phase {
	return []Phase{PhaseSynthesis, PhaseEmbedding}
}

// ValidPhases returns all valid phase values.
func ValidPhases() []Phase {
	return append(PerItemPhases(), GlobalPhases()...)
}

// IsValidPhase returns true if the phase is a known phase value.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseCache, PhaseMedia, PhaseLLM, PhaseKBItem, PhaseDBSync,
		PhaseSynthesis, PhaseEmbedding:
		return true
	default:
		return false
	}
}

// PerItem returns true for phases that track a completion flag per item.
func (p Phase) PerItem() bool {
	switch p {
	case PhaseCache, PhaseMedia, PhaseLLM, PhaseKBItem, PhaseDBSync:
		return true
	default:
		return false
	}
}

// Dependencies returns the per-item phases that must complete before p, in
// order. Global phases and cache have no per-item dependencies.
func (p Phase) Dependencies() []Phase {
	for i, candidate := range perItemOrder {
		if candidate == p {
			deps := make([]Phase, i)
			copy(deps, perItemOrder[:i])
			return deps
		}
	}
	return nil
}
