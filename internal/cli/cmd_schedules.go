// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
	"github.com/curator-ai/curator/internal/schedule"
)

// newSchedulesCmd creates the schedules command group
func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"schedule"},
		Short:   "Manage recurring pipeline runs",
		Long: `Manage the recurring run definitions. A daemon agent sweeps these
and fires the due ones; schedules declared in config.yaml are seeded
automatically and matched by name.

Examples:
  curator schedules list
  curator schedules add --name nightly --frequency daily
  curator schedules add --name weekday --cron "0 6 * * 1-5"
  curator schedules disable nightly
  curator schedules history nightly`,
	}

	cmd.AddCommand(newSchedulesListCmd())
	cmd.AddCommand(newSchedulesAddCmd())
	cmd.AddCommand(newSchedulesRemoveCmd())
	cmd.AddCommand(newSchedulesEnableCmd(true))
	cmd.AddCommand(newSchedulesEnableCmd(false))
	cmd.AddCommand(newSchedulesHistoryCmd())

	return cmd
}

// withScheduleStore opens the database and runs fn against the
// schedule store, closing the database afterwards.
func withScheduleStore(fn func(*schedule.Store) error) error {
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
	return fn(schedule.NewStore(dbs, newLogger()))
}

// findSchedule resolves a schedule by name, falling back to id.
func findSchedule(store *schedule.Store, nameOrID string) (*schedule.Definition, error) {
	defs, err := store.List(false)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Name == nameOrID {
			return d, nil
		}
	}
	for _, d := range defs {
		if d.ID == nameOrID {
			return d, nil
		}
	}
	return nil, errors.ErrScheduleNotFound(nameOrID)
}

func newSchedulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List schedule definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduleStore(func(store *schedule.Store) error {
				defs, err := store.List(false)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(defs)
				}
				if len(defs) == 0 {
					fmt.Println("No schedules. Add one with: curator schedules add --name nightly --frequency daily")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tFREQUENCY\tENABLED\tLAST RUN\tNEXT RUN")
				fmt.Fprintln(w, "────\t─────────\t───────\t────────\t────────")
				for _, d := range defs {
					freq := d.Frequency
					if d.Frequency == schedule.FreqCustom {
						freq = d.CronExpr
					}
					enabled := "yes"
					if !d.Enabled {
						enabled = "no"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						d.Name, freq, enabled,
						timeOrDash(d.LastRunAt), timeOrDash(d.NextRunAt))
				}
				w.Flush()
				return nil
			})
		},
	}
}

func newSchedulesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a schedule definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			frequency, _ := cmd.Flags().GetString("frequency")
			cron, _ := cmd.Flags().GetString("cron")
			mode, _ := cmd.Flags().GetString("mode")

			if cron != "" {
				frequency = schedule.FreqCustom
			}

			def := &schedule.Definition{
				Name:      name,
				Frequency: frequency,
				CronExpr:  cron,
				Enabled:   true,
				Prefs:     config.RunPreferences{RunMode: mode},
			}
			return withScheduleStore(func(store *schedule.Store) error {
				if err := store.Create(def); err != nil {
					return err
				}
				if !quiet {
					fmt.Printf("Schedule %q created, next run %s\n", def.Name, timeOrDash(def.NextRunAt))
				}
				return nil
			})
		},
	}

	cmd.Flags().String("name", "", "Schedule name (required)")
	cmd.Flags().String("frequency", schedule.FreqDaily, "daily, weekly, monthly, or manual")
	cmd.Flags().String("cron", "", "Five-field cron expression (implies custom frequency)")
	cmd.Flags().String("mode", "", "Run mode for fired runs (full, synthesis_only, ...)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newSchedulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a schedule definition",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduleStore(func(store *schedule.Store) error {
				def, err := findSchedule(store, args[0])
				if err != nil {
					return err
				}
				if err := store.Delete(def.ID); err != nil {
					return err
				}
				if !quiet {
					fmt.Printf("Schedule %q removed\n", def.Name)
				}
				return nil
			})
		},
	}
}

func newSchedulesEnableCmd(enable bool) *cobra.Command {
	use, verb, short := "enable", "enabled", "Enable a schedule"
	if !enable {
		use, verb, short = "disable", "disabled", "Disable a schedule without deleting it"
	}
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduleStore(func(store *schedule.Store) error {
				def, err := findSchedule(store, args[0])
				if err != nil {
					return err
				}
				if err := store.SetEnabled(def.ID, enable); err != nil {
					return err
				}
				if !quiet {
					fmt.Printf("Schedule %q %s\n", def.Name, verb)
				}
				return nil
			})
		},
	}
}

func newSchedulesHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <name>",
		Short: "Show recent firings of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduleStore(func(store *schedule.Store) error {
				def, err := findSchedule(store, args[0])
				if err != nil {
					return err
				}
				runs, err := store.History(def.ID)
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(runs)
				}
				if len(runs) == 0 {
					fmt.Printf("Schedule %q has not fired yet\n", def.Name)
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "STARTED\tSTATUS\tTASK")
				fmt.Fprintln(w, "───────\t──────\t────")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\n",
						r.StartedAt.Local().Format("2006-01-02 15:04"),
						r.Status, shortID(r.TaskID))
				}
				w.Flush()
				return nil
			})
		},
	}
}

