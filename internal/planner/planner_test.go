package planner

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/curator-ai/curator/internal/item"
)

func TestPlanPhase_MediaGating(t *testing.T) {
	t.Parallel()

	a := item.New("A", "twitter")
	a.CacheComplete = true
	b := item.New("B", "twitter")

	plan := PlanPhase(item.PhaseMedia, map[string]*item.Record{"A": a, "B": b}, ForceFlags{})

	if len(plan.NeedsProcessing) != 1 || plan.NeedsProcessing[0] != "A" {
		t.Errorf("NeedsProcessing = %v, want [A]", plan.NeedsProcessing)
	}
	if len(plan.AlreadyComplete) != 0 {
		t.Errorf("AlreadyComplete = %v, want empty", plan.AlreadyComplete)
	}
	if len(plan.Ineligible) != 1 || plan.Ineligible[0] != "B" {
		t.Errorf("Ineligible = %v, want [B]", plan.Ineligible)
	}
}

func TestPlanPhase_CacheAllEligible(t *testing.T) {
	t.Parallel()

	done := item.New("done", "twitter")
	done.CacheComplete = true
	fresh := item.New("fresh", "twitter")

	items := map[string]*item.Record{"done": done, "fresh": fresh}

	plan := PlanPhase(item.PhaseCache, items, ForceFlags{})
	if len(plan.Ineligible) != 0 {
		t.Errorf("cache should have no ineligible items, got %v", plan.Ineligible)
	}
	if len(plan.NeedsProcessing) != 1 || plan.NeedsProcessing[0] != "fresh" {
		t.Errorf("NeedsProcessing = %v, want [fresh]", plan.NeedsProcessing)
	}
	if len(plan.AlreadyComplete) != 1 || plan.AlreadyComplete[0] != "done" {
		t.Errorf("AlreadyComplete = %v, want [done]", plan.AlreadyComplete)
	}

	// Forcing a recache pulls completed items back in.
	plan = PlanPhase(item.PhaseCache, items, ForceFlags{RecacheItems: true})
	if len(plan.NeedsProcessing) != 2 {
		t.Errorf("forced NeedsProcessing = %v, want both items", plan.NeedsProcessing)
	}
}

func TestPlanPhase_KBItemForceReopensDBSync(t *testing.T) {
	t.Parallel()

	rec := item.New("T", "twitter")
	rec.CacheComplete = true
	rec.MediaProcessed = true
	rec.CategoriesProcessed = true
	rec.MainCategory = "AI/ML"
	rec.ItemNameSuggestion = "vector-db-notes"
	rec.KBItemCreated = true
	rec.KBItemPath = "kb/ai-ml/vector-db-notes/README.md"
	rec.DBSynced = true

	items := map[string]*item.Record{"T": rec}

	for _, phase := range []item.Phase{item.PhaseKBItem, item.PhaseDBSync} {
		plan := PlanPhase(phase, items, ForceFlags{})
		if len(plan.AlreadyComplete) != 1 {
			t.Errorf("%s: AlreadyComplete = %v, want [T]", phase, plan.AlreadyComplete)
		}

		plan = PlanPhase(phase, items, ForceFlags{ReprocessKBItem: true})
		if len(plan.NeedsProcessing) != 1 {
			t.Errorf("%s: forced NeedsProcessing = %v, want [T]", phase, plan.NeedsProcessing)
		}
	}
}

func TestPlanPhase_KBItemNeedsCategoryFields(t *testing.T) {
	t.Parallel()

	rec := item.New("T", "twitter")
	rec.CacheComplete = true
	rec.MediaProcessed = true
	rec.CategoriesProcessed = true
	// MainCategory and ItemNameSuggestion left empty.

	plan := PlanPhase(item.PhaseKBItem, map[string]*item.Record{"T": rec}, ForceFlags{})
	if len(plan.Ineligible) != 1 {
		t.Errorf("Ineligible = %v, want [T]", plan.Ineligible)
	}

	rec.MainCategory = "AI/ML"
	rec.ItemNameSuggestion = "notes"
	plan = PlanPhase(item.PhaseKBItem, map[string]*item.Record{"T": rec}, ForceFlags{})
	if len(plan.NeedsProcessing) != 1 {
		t.Errorf("NeedsProcessing = %v, want [T]", plan.NeedsProcessing)
	}
}

func TestPlanPhase_ErrorBlocksDownstream(t *testing.T) {
	t.Parallel()

	rec := item.New("T", "twitter")
	rec.CacheComplete = true
	rec.SetPhaseError(item.PhaseMedia, "vision call failed")

	plan := PlanPhase(item.PhaseLLM, map[string]*item.Record{"T": rec}, ForceFlags{})
	if len(plan.Ineligible) != 1 {
		t.Errorf("Ineligible = %v, want [T] while media_error is set", plan.Ineligible)
	}
}

func TestPlanPhase_GlobalPseudoPlans(t *testing.T) {
	t.Parallel()

	items := map[string]*item.Record{"T": item.New("T", "twitter")}

	plan := PlanPhase(item.PhaseSynthesis, items, ForceFlags{})
	if !plan.ShouldSkip() {
		t.Error("synthesis without its flag should skip")
	}

	plan = PlanPhase(item.PhaseSynthesis, items, ForceFlags{RegenerateSynthesis: true})
	if plan.ShouldSkip() {
		t.Fatal("synthesis with its flag should run")
	}
	if len(plan.NeedsProcessing) != 1 || plan.NeedsProcessing[0] != "synthesis" {
		t.Errorf("NeedsProcessing = %v, want [synthesis]", plan.NeedsProcessing)
	}

	plan = PlanPhase(item.PhaseEmbedding, items, ForceFlags{RegenerateEmbeddings: true})
	if len(plan.NeedsProcessing) != 1 || plan.NeedsProcessing[0] != "embedding" {
		t.Errorf("NeedsProcessing = %v, want [embedding]", plan.NeedsProcessing)
	}
}

func TestPlanPhase_NilRecordIneligible(t *testing.T) {
	t.Parallel()

	plan := PlanPhase(item.PhaseCache, map[string]*item.Record{"X": nil}, ForceFlags{})
	if len(plan.Ineligible) != 1 || plan.Ineligible[0] != "X" {
		t.Errorf("Ineligible = %v, want [X]", plan.Ineligible)
	}
}

func TestPrerequisites(t *testing.T) {
	t.Parallel()

	if got := Prerequisites(item.PhaseCache); len(got) != 0 {
		t.Errorf("cache prerequisites = %v, want none", got)
	}
	if got := Prerequisites(item.PhaseDBSync); len(got) != 4 {
		t.Errorf("db_sync prerequisites = %v, want the four earlier phases", got)
	}
	if got := Prerequisites(item.PhaseSynthesis); len(got) != 5 {
		t.Errorf("synthesis prerequisites = %v, want the per-item chain", got)
	}
}

func TestValidatePrerequisites(t *testing.T) {
	t.Parallel()

	rec := item.New("T", "twitter")

	if got := ValidatePrerequisites(item.PhaseCache, rec); len(got) != 0 {
		t.Errorf("cache should always be eligible, got %v", got)
	}
	if got := ValidatePrerequisites(item.PhaseMedia, rec); len(got) != 1 {
		t.Errorf("media missing = %v, want one entry", got)
	}
	if got := ValidatePrerequisites(item.PhaseKBItem, rec); len(got) != 3 {
		t.Errorf("kb_item missing = %v, want three entries", got)
	}
	if got := ValidatePrerequisites(item.PhaseDBSync, nil); len(got) != 1 {
		t.Errorf("nil record missing = %v, want one entry", got)
	}
}

func TestForceFlags_Any(t *testing.T) {
	t.Parallel()

	if (ForceFlags{}).Any() {
		t.Error("zero flags should report Any() = false")
	}
	if !(ForceFlags{ReprocessLLM: true}).Any() {
		t.Error("set flag should report Any() = true")
	}
}

// buildItems decodes one record per shape word, bit by bit. The records
// deliberately include states that violate the store's invariants; the
// planner has to partition whatever it is handed.
func buildItems(shapes []uint16) map[string]*item.Record {
	items := make(map[string]*item.Record, len(shapes))
	for i, bits := range shapes {
		rec := item.New(fmt.Sprintf("item-%03d", i), "twitter")
		rec.CacheComplete = bits&(1<<0) != 0
		rec.MediaProcessed = bits&(1<<1) != 0
		rec.CategoriesProcessed = bits&(1<<2) != 0
		rec.KBItemCreated = bits&(1<<3) != 0
		rec.DBSynced = bits&(1<<4) != 0
		if bits&(1<<5) != 0 {
			rec.CacheError = "cache failed"
		}
		if bits&(1<<6) != 0 {
			rec.MediaError = "media failed"
		}
		if bits&(1<<7) != 0 {
			rec.LLMError = "llm failed"
		}
		if bits&(1<<8) != 0 {
			rec.KBItemError = "kb failed"
		}
		if bits&(1<<9) != 0 {
			rec.MainCategory = "AI/ML"
		}
		if bits&(1<<10) != 0 {
			rec.ItemNameSuggestion = "notes"
		}
		if bits&(1<<11) != 0 {
			rec.KBItemPath = "kb/ai-ml/notes/README.md"
		}
		items[rec.ItemID] = rec
	}
	return items
}

// isPartition checks that the three lists are disjoint and cover the
// input exactly.
func isPartition(items map[string]*item.Record, plan Plan) bool {
	seen := make(map[string]bool, len(items))
	for _, list := range [][]string{plan.NeedsProcessing, plan.AlreadyComplete, plan.Ineligible} {
		for _, id := range list {
			if seen[id] {
				return false
			}
			if _, ok := items[id]; !ok {
				return false
			}
			seen[id] = true
		}
	}
	return len(seen) == len(items)
}

func TestPlanPartitionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("per-item plans partition the input", prop.ForAll(
		func(shapes []uint16, recache, media, llm, kb bool) bool {
			items := buildItems(shapes)
			flags := ForceFlags{
				RecacheItems:    recache,
				ReprocessMedia:  media,
				ReprocessLLM:    llm,
				ReprocessKBItem: kb,
			}
			for _, phase := range item.PerItemPhases() {
				if !isPartition(items, PlanPhase(phase, items, flags)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt16()),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("force flags never change eligibility", prop.ForAll(
		func(shapes []uint16) bool {
			items := buildItems(shapes)
			forced := ForceFlags{
				RecacheItems:    true,
				ReprocessMedia:  true,
				ReprocessLLM:    true,
				ReprocessKBItem: true,
			}
			for _, phase := range item.PerItemPhases() {
				plain := PlanPhase(phase, items, ForceFlags{})
				with := PlanPhase(phase, items, forced)
				if len(plain.Ineligible) != len(with.Ineligible) {
					return false
				}
				for i := range plain.Ineligible {
					if plain.Ineligible[i] != with.Ineligible[i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt16()),
	))

	properties.TestingRun(t)
}
