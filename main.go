// op-harness resolves RPC and block environment files, runs op-program in
// pre-image server mode, and verifies the pre-images it serves.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/op-harness/harness/cmd"
)

func main() {
	app := cli.NewApp()
	app.Name = "op-harness"
	app.Usage = "op-program pre-image read-back harness"
	app.Description = "Resolves RPC and block environment files, runs op-program in pre-image server mode, and verifies the pre-images it serves."
	app.Commands = []*cli.Command{
		cmd.RunCommand,
		cmd.LatestBlockCommand,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, ctx.Err()) {
			fmt.Fprintln(os.Stderr, "command interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
