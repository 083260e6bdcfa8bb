package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Swind/embedder-harness/trace"
)

func TraceCommand() *cli.Command {
	return &cli.Command{
		Name:    "trace",
		Aliases: []string{"t"},
		Usage:   "dump events recorded in a trace database",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "trace database, defaults to trace.db of the config",
			},
			&cli.StringFlag{
				Name:    "kind",
				Aliases: []string{"k"},
				Usage:   "only events of this kind (message, phase, frame)",
			},
		},

		Action: traceAction,
	}
}

func traceAction(c *cli.Context) error {
	// 1. Get flags
	path := c.String("db")
	if path == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
		path = cfg.Trace.DB
	}
	kind := trace.Kind(c.String("kind"))

	// 2. Validate (format only)
	if path == "" {
		return cli.Exit("no trace database: pass --db or set trace.db", 1)
	}
	switch kind {
	case "", trace.KindMessage, trace.KindPhase, trace.KindFrame:
	default:
		return cli.Exit(fmt.Sprintf("unknown kind %q", kind), 1)
	}
	if _, err := os.Stat(path); err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 3. Query
	store, err := trace.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	defer store.Close()
	events, err := store.Events(c.Context, kind)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	// 4. Format output
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAT\tKIND\tSOURCE\tSUBJECT\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.At.Format(time.RFC3339Nano), e.Kind, e.Source, e.Subject, e.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d events\n", len(events))
	return nil
}
