// Package cli implements the curator command-line interface.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/events"
	"github.com/curator-ai/curator/internal/kb"
	"github.com/curator-ai/curator/internal/schedule"
	"github.com/curator-ai/curator/internal/watcher"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline run",
		Long: `Execute one pipeline run in the foreground, streaming progress
until it finishes. With --daemon the process stays up as a long-lived
agent: schedules fire on time, the knowledge-base tree is watched for
manual edits, and runs are started via the schedule definitions.

Examples:
  curator run                           # Full pipeline run
  curator run --mode synthesis_only     # Regenerate syntheses and downstream
  curator run --items id1,id2           # Restrict the run to two items
  curator run --force-llm --items id1   # Re-run classification for one item
  curator run --daemon                  # Long-lived agent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RequireInit(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prefs, err := prefsFromFlags(cmd)
			if err != nil {
				return err
			}
			daemon, _ := cmd.Flags().GetBool("daemon")

			logger := newLogger()
			ctx, cancel := SetupSignalHandler()
			defer cancel()

			svc, err := agent.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := svc.Start(ctx); err != nil {
				svc.Close()
				return err
			}
			ctrl, err := agent.NewController(svc)
			if err != nil {
				svc.Close()
				return err
			}

			if daemon {
				return runDaemon(ctx, cfg, svc, ctrl, logger)
			}
			return runOnce(ctx, svc, ctrl, prefs)
		},
	}

	cmd.Flags().Bool("daemon", false, "Stay up as a long-lived agent with schedules and the KB watcher")
	cmd.Flags().String("mode", "", "Run mode: full, synthesis_only, embedding_only, readme_only")
	cmd.Flags().StringSlice("items", nil, "Restrict the run to these item IDs")
	cmd.Flags().StringArray("model", nil, "Override a model route as purpose=provider/model (repeatable)")

	cmd.Flags().Bool("force-recache", false, "Re-fetch cached content for selected items")
	cmd.Flags().Bool("force-media", false, "Re-run media processing for selected items")
	cmd.Flags().Bool("force-llm", false, "Re-run LLM classification for selected items")
	cmd.Flags().Bool("force-kb-items", false, "Re-create KB documents for selected items")
	cmd.Flags().Bool("force-synthesis", false, "Regenerate all synthesis documents")
	cmd.Flags().Bool("force-embeddings", false, "Regenerate the embedding index")
	cmd.Flags().Bool("force-readme", false, "Regenerate the root README")

	cmd.Flags().Bool("skip-fetch", false, "Skip bookmark fetching")
	cmd.Flags().Bool("skip-content", false, "Skip content processing")
	cmd.Flags().Bool("skip-synthesis", false, "Skip synthesis generation")
	cmd.Flags().Bool("skip-embedding", false, "Skip embedding generation")
	cmd.Flags().Bool("skip-readme", false, "Skip README generation")
	cmd.Flags().Bool("skip-git-sync", false, "Skip the git sync phase")

	return cmd
}

// prefsFromFlags assembles run preferences from the command flags.
func prefsFromFlags(cmd *cobra.Command) (config.RunPreferences, error) {
	var prefs config.RunPreferences

	mode, _ := cmd.Flags().GetString("mode")
	switch mode {
	case "", config.RunModeFull, config.RunModeSynthesisOnly, config.RunModeEmbeddingOnly, config.RunModeReadmeOnly:
		prefs.RunMode = mode
	default:
		return prefs, errors.ErrConfigInvalid("mode",
			fmt.Sprintf("unknown run mode %q", mode))
	}

	prefs.ItemIDs, _ = cmd.Flags().GetStringSlice("items")

	prefs.ForceRecacheItems, _ = cmd.Flags().GetBool("force-recache")
	prefs.ForceReprocessMedia, _ = cmd.Flags().GetBool("force-media")
	prefs.ForceReprocessLLM, _ = cmd.Flags().GetBool("force-llm")
	prefs.ForceReprocessKBItem, _ = cmd.Flags().GetBool("force-kb-items")
	prefs.ForceRegenerateSynthesis, _ = cmd.Flags().GetBool("force-synthesis")
	prefs.ForceRegenerateEmbeddings, _ = cmd.Flags().GetBool("force-embeddings")
	prefs.ForceRegenerateReadme, _ = cmd.Flags().GetBool("force-readme")

	prefs.SkipFetchBookmarks, _ = cmd.Flags().GetBool("skip-fetch")
	prefs.SkipProcessContent, _ = cmd.Flags().GetBool("skip-content")
	prefs.SkipSynthesis, _ = cmd.Flags().GetBool("skip-synthesis")
	prefs.SkipEmbedding, _ = cmd.Flags().GetBool("skip-embedding")
	prefs.SkipReadme, _ = cmd.Flags().GetBool("skip-readme")
	prefs.SkipGitSync, _ = cmd.Flags().GetBool("skip-git-sync")

	overrides, _ := cmd.Flags().GetStringArray("model")
	for _, o := range overrides {
		purpose, ref, err := parseModelOverride(o)
		if err != nil {
			return prefs, err
		}
		if prefs.ModelsOverride == nil {
			prefs.ModelsOverride = make(map[string]config.ModelRef)
		}
		prefs.ModelsOverride[purpose] = ref
	}

	return prefs, nil
}

// parseModelOverride parses one purpose=provider/model flag value.
func parseModelOverride(s string) (string, config.ModelRef, error) {
	purpose, target, ok := strings.Cut(s, "=")
	if !ok {
		return "", config.ModelRef{}, errors.ErrConfigInvalid("model",
			fmt.Sprintf("expected purpose=provider/model, got %q", s))
	}
	provider, model, ok := strings.Cut(target, "/")
	if !ok || provider == "" || model == "" {
		return "", config.ModelRef{}, errors.ErrConfigInvalid("model",
			fmt.Sprintf("expected purpose=provider/model, got %q", s))
	}
	return purpose, config.ModelRef{Provider: provider, Model: model}, nil
}

// runOnce starts a single pipeline run and streams its events until
// the run completes. The first interrupt requests a graceful stop.
func runOnce(ctx context.Context, svc *agent.Services, ctrl *agent.Controller, prefs config.RunPreferences) error {
	defer svc.Close()
	defer ctrl.Close()

	// Subscribe before starting so no early events are missed.
	eventCh := svc.Bus.Subscribe(events.GlobalTaskID)
	defer svc.Bus.Unsubscribe(events.GlobalTaskID, eventCh)

	taskID, err := ctrl.Start(prefs)
	if err != nil {
		return err
	}
	if !quiet && !jsonOut {
		fmt.Printf("Run started: %s\n", shortID(taskID))
	}

	ctxDone := ctx.Done()
	for {
		select {
		case <-ctxDone:
			ctrl.Stop(taskID)
			ctxDone = nil
		case ev, ok := <-eventCh:
			if !ok {
				return fmt.Errorf("event stream closed before run finished")
			}
			if ev.TaskID != taskID {
				continue
			}
			done, err := renderRunEvent(ev)
			if done {
				return err
			}
		}
	}
}

// renderRunEvent prints one run event. It reports done once the
// terminal run_completed event arrives, along with the run's error.
func renderRunEvent(ev events.Event) (bool, error) {
	if jsonOut {
		if data, err := json.Marshal(ev); err == nil {
			fmt.Println(string(data))
		}
		return ev.Type == events.EventRunCompleted, runError(ev)
	}

	switch ev.Type {
	case events.EventPhase:
		pu, ok := ev.Data.(events.PhaseUpdate)
		if !ok {
			return false, nil
		}
		icon := phaseStatusIcon(pu.Status)
		switch pu.Status {
		case events.PhaseCompleted:
			icon = paint(ansiGreen, icon)
		case events.PhaseFailed:
			icon = paint(ansiYellow, icon)
		}
		if pu.Status == events.PhaseFailed && pu.Error != "" {
			fmt.Printf("%s %s: %s\n", icon, pu.PhaseName, pu.Error)
			return false, nil
		}
		fmt.Printf("%s %s\n", icon, pu.PhaseName)

	case events.EventLog:
		lm, ok := ev.Data.(events.LogMessage)
		if !ok {
			return false, nil
		}
		if quiet || (lm.Level == "debug" && !verbose) {
			return false, nil
		}
		fmt.Printf("%s\n", paint(ansiDim, fmt.Sprintf("  [%s] %s", lm.Module, lm.Message)))

	case events.EventRetryScheduled:
		rs, ok := ev.Data.(events.RetryScheduled)
		if !ok {
			return false, nil
		}
		fmt.Printf("  retry scheduled: item %s phase %s attempt %d (%s)\n",
			rs.ItemID, rs.Phase, rs.Attempt, rs.FailureType)

	case events.EventProgress:
		if !verbose {
			return false, nil
		}
		pu, ok := ev.Data.(events.ProgressUpdate)
		if !ok {
			return false, nil
		}
		fmt.Printf("  %3.0f%% %s %s\n", pu.Progress*100, pu.Phase, pu.Message)

	case events.EventRunCompleted:
		rc, ok := ev.Data.(events.RunCompleted)
		if !ok {
			return true, nil
		}
		printRunSummary(rc)
		return true, runError(ev)
	}
	return false, nil
}

// runError extracts the terminal error from a run_completed event so a
// failed run exits non-zero.
func runError(ev events.Event) error {
	if ev.Type != events.EventRunCompleted {
		return nil
	}
	rc, ok := ev.Data.(events.RunCompleted)
	if !ok || rc.Success {
		return nil
	}
	if rc.Error != "" {
		return fmt.Errorf("run failed: %s", rc.Error)
	}
	return fmt.Errorf("run failed")
}

func printRunSummary(rc events.RunCompleted) {
	if rc.Success {
		fmt.Printf("\nRun completed in %s\n", rc.Duration)
	} else {
		fmt.Printf("\nRun failed after %s\n", rc.Duration)
	}
	if n, ok := rc.Results["items_ingested"]; ok {
		fmt.Printf("  Items ingested:   %v\n", n)
	}
	if n, ok := rc.Results["kb_items_created"]; ok {
		fmt.Printf("  KB items created: %v\n", n)
	}
}

// runDaemon keeps the agent process up: the schedule runner fires due
// definitions, and the KB watcher mirrors manual edits onto the bus.
func runDaemon(ctx context.Context, cfg *config.Config, svc *agent.Services, ctrl *agent.Controller, logger *slog.Logger) error {
	defer svc.Close()
	defer ctrl.Close()

	scheduleStore := schedule.NewStore(svc.DB, logger)
	if err := scheduleStore.EnsureConfigured(cfg.Schedules); err != nil {
		return err
	}
	runner := schedule.NewRunner(scheduleStore, ctrl, svc.Bus, logger)
	runner.Start(ctx)
	defer runner.Close()

	// A broken watcher degrades the daemon, it does not stop it.
	w, err := watcher.New(&watcher.Config{
		Layout:    kb.NewLayout(cfg.KB),
		Publisher: svc.Bus,
		Logger:    logger,
	})
	if err != nil {
		logger.Warn("kb watcher disabled", "error", err)
	} else if err := w.Start(ctx); err != nil {
		logger.Warn("kb watcher disabled", "error", err)
	} else {
		defer w.Close()
	}

	logger.Info("agent ready",
		"pid", os.Getpid(),
		"pid_file", cfg.Agent.PIDFile,
		"schedules", len(cfg.Schedules))
	if !quiet {
		fmt.Println("curator agent running. Press Ctrl-C to stop.")
	}

	<-ctx.Done()
	if !quiet {
		fmt.Println("Shutting down...")
	}
	return nil
}
