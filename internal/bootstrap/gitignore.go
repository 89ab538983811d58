package bootstrap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// curatorGitignoreEntries are the entries curator adds to .gitignore.
// The knowledge base itself stays tracked; only runtime state is ignored.
var curatorGitignoreEntries = []string{
	"# curator - knowledge-base agent",
	".curator/cache/",
	".curator/logs/",
	".curator/agent.pid",
	".curator/curator.db",
	".curator/curator.db-journal",
	".curator/curator.db-wal",
	".curator/curator.db-shm",
}

// updateGitignore adds curator entries to .gitignore if not already present.
func updateGitignore(workDir string) error {
	gitignorePath := filepath.Join(workDir, ".gitignore")

	existing := make(map[string]bool)
	if file, err := os.Open(gitignorePath); err == nil {
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			existing[strings.TrimSpace(scanner.Text())] = true
		}
		if err := scanner.Err(); err != nil {
			file.Close()
			return fmt.Errorf("read .gitignore: %w", err)
		}
		file.Close()
	}

	var toAdd []string
	for _, entry := range curatorGitignoreEntries {
		if !existing[entry] {
			toAdd = append(toAdd, entry)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}

	file, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open .gitignore: %w", err)
	}
	defer file.Close()

	// Blank line before our entries if the file is not empty.
	if info, err := file.Stat(); err == nil && info.Size() > 0 {
		if _, err := file.WriteString("\n"); err != nil {
			return fmt.Errorf("write .gitignore: %w", err)
		}
	}
	for _, entry := range toAdd {
		if _, err := file.WriteString(entry + "\n"); err != nil {
			return fmt.Errorf("write .gitignore: %w", err)
		}
	}
	return nil
}
