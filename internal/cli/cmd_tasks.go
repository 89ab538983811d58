// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
)

// newTasksCmd creates the tasks command
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List runtime tasks",
		Long: `List the tasks the runtime has executed or queued. Pipeline runs,
their phases, and retry waves all appear here.

Examples:
  curator tasks
  curator tasks --active
  curator tasks --queue ai_processing --status FAILURE`,
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

			filter := db.TaskFilter{}
			filter.Queue, _ = cmd.Flags().GetString("queue")
			filter.Kind, _ = cmd.Flags().GetString("kind")
			filter.Active, _ = cmd.Flags().GetBool("active")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				filter.Statuses = []string{status}
			}

			tasks, err := dbs.ListTasks(filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tQUEUE\tKIND\tSTATUS\tAGE\tDESCRIPTION")
			fmt.Fprintln(w, "──\t─────\t────\t──────\t───\t───────────")
			for _, t := range tasks {
				desc := t.Description
				if t.ProgressMessage != "" {
					desc = t.ProgressMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(t.ID), t.Queue, t.Kind, statusIcon(t.Status),
					formatTimeAgo(t.CreatedAt), truncate(desc, 48))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().String("queue", "", "Filter by queue")
	cmd.Flags().String("kind", "", "Filter by task kind")
	cmd.Flags().String("status", "", "Filter by status (PENDING, RUNNING, SUCCESS, ...)")
	cmd.Flags().Bool("active", false, "Only tasks not in a terminal status")
	cmd.Flags().Int("limit", 30, "Maximum tasks to list (0 for all)")

	return cmd
}
