// The main package for the docharvest executable.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fiscalops/docharvest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
