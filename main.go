// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/vulntrace/cmd"
)

// main is the entry point for the vulntrace CLI application.
func main() {
	// Cancel the run context on SIGINT/SIGTERM so analysis stops cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
