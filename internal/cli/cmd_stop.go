// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/errors"
)

// newStopCmd creates the stop command
func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running agent",
		Long: `Signal the agent process named in the pid file to shut down.
The agent finishes or cancels its active run within its shutdown grace
period before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RequireInit(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			wait, _ := cmd.Flags().GetDuration("wait")

			pid, err := readPIDFile(cfg.Agent.PIDFile)
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				return errors.ErrAgentNotRunning()
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				// The pid file outlived its process.
				os.Remove(cfg.Agent.PIDFile)
				return errors.ErrAgentNotRunning()
			}
			if !quiet {
				fmt.Printf("Sent stop signal to agent (pid %d)\n", pid)
			}

			if wait <= 0 {
				return nil
			}
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				if proc.Signal(syscall.Signal(0)) != nil {
					if !quiet {
						fmt.Println("Agent stopped")
					}
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			return fmt.Errorf("agent (pid %d) still running after %s", pid, wait)
		},
	}

	cmd.Flags().Duration("wait", 0, "Wait up to this long for the agent to exit")

	return cmd
}

// readPIDFile reads and parses the agent pid file.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.ErrAgentNotRunning()
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}
