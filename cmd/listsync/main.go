package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Cameron64/HoneyDo-sub002/internal/cli"
	"github.com/Cameron64/HoneyDo-sub002/internal/config"
)

func main() {
	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load()

	cmd := cli.NewRootCommand(config.Load())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "listsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
