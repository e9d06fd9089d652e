// Package main provides mxdeploy, the command line client that exports,
// updates and compares configuration items of a project against its
// database through a dispatcher peer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mxdeploy/cmd/mxdeploy/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(nil)
	if err := app.CreateRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
