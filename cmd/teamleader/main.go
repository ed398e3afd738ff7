// Command teamleader manages teams of AI agents that execute tasks
// for human review, as a CLI and an HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is stamped at release build time:
// -ldflags "-X main.Version=v1.2.3"
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:]))
}
