// Command deepresearch runs the three-stage research pipeline from an
// interactive terminal UI, as a one-shot command, or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "deepresearch:", err)
		os.Exit(1)
	}
}
