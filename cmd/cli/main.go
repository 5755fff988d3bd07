// Package main is the entry point for the bundle-pricing CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"bundle-pricing/cmd/cli/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
