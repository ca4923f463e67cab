package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/psantana5/launchgate/cmd/launchgate/cmd"
	"github.com/psantana5/launchgate/pkg/shutdown"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
