// Command harness drives the embedder harness from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Swind/embedder-harness/cmd/harness/commands"
)

func main() {
	app := &cli.App{
		Name:  "harness",
		Usage: "run isolates and simulated frames against the embedder harness",
		Flags: commands.GlobalFlags(),
		Commands: []*cli.Command{
			commands.RunCommand(),
			commands.FramesCommand(),
			commands.TraceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
