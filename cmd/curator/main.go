package main

import (
	"os"

	"github.com/curator-ai/curator/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
