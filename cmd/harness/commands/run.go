package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	harness "github.com/Swind/embedder-harness"
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/isolate"
	"github.com/Swind/embedder-harness/trace"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "run an entrypoint in a root isolate and print its messages",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "entrypoint",
				Aliases: []string{"e"},
				Value:   "mainForPluginRegistrantTest",
				Usage:   "function the root isolate calls",
			},
			&cli.StringSliceFlag{
				Name:  "arg",
				Usage: "argument passed to the entrypoint (repeatable)",
			},
			&cli.StringFlag{
				Name:  "kernel",
				Usage: "script to load, overriding isolate.kernel_file",
			},
			&cli.DurationFlag{
				Name:  "linger",
				Usage: "keep the metrics endpoint up this long after the run",
			},
		},

		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	// 1. Get flags
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	if kernel := c.String("kernel"); kernel != "" {
		cfg.Isolate.KernelFile = kernel
	}
	entrypoint := c.String("entrypoint")

	// 2. Validate (format only)
	if entrypoint == "" {
		return cli.Exit("entrypoint must not be empty", 1)
	}

	// 3. Run
	logger := newLogger(cfg)
	tel, err := startTelemetry(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer tel.close()

	var observer isolate.Observer
	if tel.exporter != nil {
		observer = tel.exporter
	}
	if tel.store != nil {
		observer = trace.PhaseObserver(tel.store, observer)
	}
	fixture := harness.NewFixture(cfg,
		harness.WithLogger(logger),
		harness.WithObserver(observer),
		harness.WithRunnerConfig(tel.runnerConfig()))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fixture.Close(ctx); err != nil {
			logger.Warn("fixture close failed", core.F("error", err))
		}
	}()
	if tel.exporter != nil {
		fixture.Bridge().AddObserver(tel.exporter)
	}
	if tel.store != nil {
		fixture.Bridge().AddObserver(trace.BridgeObserver(tel.store))
	}

	if tel.poller != nil {
		vm, err := fixture.VM()
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		tel.poller.AddPool("isolate-pool", vm.VM())
		tel.poller.AddHost(cfg.Label, fixture)
		tel.startPoller()
	}

	running, runErr := fixture.RunInIsolate(c.Context, entrypoint, c.StringSlice("arg"))
	if running != nil && runErr == nil {
		ctx, cancel := context.WithTimeout(c.Context, cfg.Isolate.RunTimeout)
		err := running.Group().WaitBackground(ctx)
		cancel()
		if err != nil {
			logger.Warn("background isolates did not finish", core.F("error", err))
		}
	}

	// 4. Format output
	for i, msg := range fixture.Bridge().Messages() {
		fmt.Fprintf(c.App.Writer, "[%d] %s\n", i+1, msg)
	}
	if running != nil {
		fmt.Fprintf(c.App.Writer, "isolate %s: %s\n", running.Isolate().ID(), running.Phase())
		for _, iso := range running.Group().Isolates()[1:] {
			fmt.Fprintf(c.App.Writer, "  background %s %s: %s\n", iso.ID(), iso.Entrypoint(), iso.Phase())
		}
	}
	if runErr != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", runErr), 1)
	}

	if linger := c.Duration("linger"); linger > 0 && tel.server != nil {
		fmt.Fprintf(c.App.Writer, "metrics stay up for %s\n", linger)
		select {
		case <-time.After(linger):
		case <-c.Context.Done():
		}
	}
	return nil
}
