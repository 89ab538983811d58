// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/model"
	"github.com/curator-ai/curator/internal/model/backends"
	"github.com/curator-ai/curator/internal/orchestrator"
	"github.com/curator-ai/curator/internal/probe"
	"github.com/curator-ai/curator/internal/retry"
)

// newDoctorCmd creates the doctor command
func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check component health",
		Long: `Probe every configured component: the database, each model
backend, Redis and NATS when configured, and the queue configuration.
Each check reports its latency and failure detail.

With --metrics the command also fetches the /metrics endpoint of a
running agent and prints the exposition text.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RequireInit(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			showMetrics, _ := cmd.Flags().GetBool("metrics")
			if showMetrics {
				return dumpMetrics(cfg)
			}

			logger := newLogger()
			ctx := cmd.Context()

			dbs, err := agent.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer dbs.Close()

			router := model.NewRouter(cfg.Models, backends.Build(ctx, cfg, logger), logger)
			runtime, err := orchestrator.NewRuntime(orchestrator.Options{
				Config: cfg.Runtime,
				Store:  dbs,
				Retry:  retry.NewManager(cfg.Retry, logger),
				Logger: logger,
			})
			if err != nil {
				return err
			}

			results := probe.New(cfg, dbs, router, runtime).Run(ctx)
			if jsonOut {
				if err := printJSON(results); err != nil {
					return err
				}
			} else {
				printProbeResults(results)
			}

			if !probe.Healthy(results) {
				failed := 0
				for _, r := range results {
					if !r.Healthy {
						failed++
					}
				}
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().Bool("metrics", false, "Fetch and print a running agent's /metrics")

	return cmd
}

func printProbeResults(results []probe.ComponentHealth) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATUS\tLATENCY\tDETAIL")
	fmt.Fprintln(w, "─────────\t──────\t───────\t──────")
	for _, r := range results {
		status := "✓ ok"
		if !r.Healthy {
			status = "✗ fail"
		}
		detail := r.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			r.Component, status, r.Latency.Round(time.Millisecond), truncate(detail, 60))
	}
	w.Flush()
}

// dumpMetrics fetches the exposition text from a running agent.
func dumpMetrics(cfg *config.Config) error {
	if !cfg.Telemetry.Enabled || cfg.Telemetry.Listen == "" {
		return fmt.Errorf("telemetry is not enabled; set telemetry.enabled and telemetry.listen in config")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/metrics", cfg.Telemetry.Listen)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s (is the agent running?): %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}
