package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/root-talis/kiroku"
	_ "github.com/root-talis/kiroku/driver/mysql"
	_ "github.com/root-talis/kiroku/driver/postgres"
	_ "github.com/root-talis/kiroku/driver/sqlite"
)

const (
	exitFailure          = 1
	exitValidationFailed = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, kiroku.ErrValidationFailed) {
		return exitValidationFailed
	}

	return exitFailure
}
