package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clicmd "github.com/rzbill/claimq/internal/cmd/cli"
	logpkg "github.com/rzbill/claimq/pkg/log"
)

func main() {
	// Respect CLAIMQ_LOG_LEVEL for all commands. Logs go to stderr so
	// stdout stays parseable JSON.
	level := os.Getenv("CLAIMQ_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger.
	logpkg.RedirectStdLog(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := clicmd.NewRoot(logger)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
