// cmd/racecrawl/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/law-makers/racecrawl/internal/cli"
)

func main() {
	// Cancel the run on interrupt so the browser is closed and partial
	// results can still be exported.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
