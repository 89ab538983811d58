// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/task"
)

// statusReport is the --json shape of the status command.
type statusReport struct {
	Agent struct {
		Running         bool       `json:"running"`
		CurrentTaskID   string     `json:"current_task_id,omitempty"`
		CurrentPhase    string     `json:"current_phase,omitempty"`
		StartedAt       *time.Time `json:"started_at,omitempty"`
		LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
		LastSuccess     bool       `json:"last_success"`
	} `json:"agent"`
	Items struct {
		Total      int `json:"total"`
		InKB       int `json:"in_kb"`
		WithErrors int `json:"with_errors"`
	} `json:"items"`
	Tasks     map[string]int64 `json:"tasks"`
	Schedules []scheduleStatus `json:"schedules,omitempty"`
}

type scheduleStatus struct {
	Name      string     `json:"name"`
	Enabled   bool       `json:"enabled"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show agent and pipeline state",
		Long: `Show the agent's current state, item and task counts, and the
next schedule firings. Reads the project database directly, so it
works whether or not an agent process is up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RequireInit(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbs, err := agent.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer dbs.Close()

			report, currentTask, err := collectStatus(dbs)
			if err != nil {
				return err
			}

			if jsonOut {
				return printJSON(report)
			}
			printStatus(report, currentTask)
			return nil
		},
	}
}

// collectStatus gathers the report from the database. The current task
// row rides along for human display of phase and progress.
func collectStatus(dbs *db.Store) (*statusReport, *db.Task, error) {
	report := &statusReport{}

	state, err := dbs.LoadAgentState()
	if err != nil {
		return nil, nil, err
	}
	var currentTask *db.Task
	if state != nil {
		report.Agent.Running = state.Running
		report.Agent.CurrentTaskID = state.CurrentTaskID
		report.Agent.StartedAt = state.StartedAt
		report.Agent.LastCompletedAt = state.LastCompletedAt
		report.Agent.LastSuccess = state.LastSuccess
		if state.Running && state.CurrentTaskID != "" {
			if t, err := dbs.GetTask(state.CurrentTaskID); err == nil && t != nil {
				currentTask = t
				report.Agent.CurrentPhase = t.Phase
			}
		}
	}

	if report.Items.Total, err = dbs.CountItems(db.ItemFilter{}); err != nil {
		return nil, nil, err
	}
	inKB := true
	if report.Items.InKB, err = dbs.CountItems(db.ItemFilter{KBItemCreated: &inKB}); err != nil {
		return nil, nil, err
	}
	hasErrors := true
	if report.Items.WithErrors, err = dbs.CountItems(db.ItemFilter{HasErrors: &hasErrors}); err != nil {
		return nil, nil, err
	}

	if report.Tasks, err = dbs.CountTasksByStatus(); err != nil {
		return nil, nil, err
	}

	defs, err := dbs.ListSchedules(false)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range defs {
		report.Schedules = append(report.Schedules, scheduleStatus{
			Name:      d.Name,
			Enabled:   d.Enabled,
			NextRunAt: d.NextRunAt,
			LastRunAt: d.LastRunAt,
		})
	}

	return report, currentTask, nil
}

func printStatus(r *statusReport, currentTask *db.Task) {
	switch {
	case r.Agent.Running:
		line := fmt.Sprintf("Agent:  running task %s", shortID(r.Agent.CurrentTaskID))
		if r.Agent.StartedAt != nil {
			line += fmt.Sprintf(" (started %s)", formatTimeAgo(*r.Agent.StartedAt))
		}
		fmt.Println(line)
		if currentTask != nil && currentTask.ProgressMessage != "" {
			fmt.Printf("        %s", currentTask.ProgressMessage)
			if currentTask.ProgressTotal > 0 {
				fmt.Printf(" (%d/%d)", currentTask.ProgressCurrent, currentTask.ProgressTotal)
			}
			fmt.Println()
		}
	case r.Agent.LastCompletedAt != nil:
		outcome := "success"
		if !r.Agent.LastSuccess {
			outcome = "failure"
		}
		fmt.Printf("Agent:  idle (last run %s, %s)\n",
			formatTimeAgo(*r.Agent.LastCompletedAt), outcome)
	default:
		fmt.Println("Agent:  idle (no runs yet)")
	}

	fmt.Printf("Items:  %d total, %d in knowledge base", r.Items.Total, r.Items.InKB)
	if r.Items.WithErrors > 0 {
		fmt.Printf(", %d with errors", r.Items.WithErrors)
	}
	fmt.Println()

	if len(r.Tasks) > 0 {
		fmt.Print("Tasks: ")
		for _, status := range []task.Status{
			task.StatusRunning, task.StatusPending, task.StatusRetrying,
			task.StatusSuccess, task.StatusFailure, task.StatusCancelled,
		} {
			if n := r.Tasks[string(status)]; n > 0 {
				fmt.Printf(" %d %s", n, status)
			}
		}
		fmt.Println()
	}

	if len(r.Schedules) > 0 {
		fmt.Println("\nSchedules:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, s := range r.Schedules {
			state := "enabled"
			if !s.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "  %s\t%s\tnext %s\n", s.Name, state, timeOrDash(s.NextRunAt))
		}
		w.Flush()
	}
}
