// Command trader is the entry point for the options desk CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"fno-desk/internal/cli"
)

func main() {
	// Ctrl-C during a basket submission fails the orders not yet sent
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	app := &cli.App{Logger: zerolog.Nop()}
	err := cli.NewRootCmd(app).ExecuteContext(ctx)

	stop()
	if cerr := app.Close(); cerr != nil {
		app.Logger.Warn().Err(cerr).Msg("Failed to close basket store")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
