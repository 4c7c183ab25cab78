// Command ingest loads the portfolio sources into Qdrant and inspects or
// refreshes the index.
//
//	ingest ingest --recreate     full ingest of every source
//	ingest update                refresh GitHub and blog content only
//	ingest stats                 collection info and per-source breakdown
//	ingest ask "question"...     smoke-test the answerer
//	ingest watch --interval 6h   refresh on a timer and on NATS triggers
//	ingest trigger               request a refresh over NATS
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/portfolio-chat/portfolio-chat/engine/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Build and maintain the portfolio vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json, overrides LOG_FORMAT",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "Load every source and write it to the collection",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "recreate",
						Usage: "drop and recreate the collection first",
						Value: true,
					},
				},
				Action: ingestAction,
			},
			{
				Name:   "update",
				Usage:  "Refresh GitHub repositories and blog articles only",
				Action: updateAction,
			},
			{
				Name:  "stats",
				Usage: "Show collection info and a breakdown by source and type",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "samples",
						Usage: "number of sample points to print",
						Value: 3,
					},
				},
				Action: statsAction,
			},
			{
				Name:      "ask",
				Usage:     "Answer questions through the full retrieval chain",
				ArgsUsage: "[question...]",
				Action:    askAction,
			},
			{
				Name:  "watch",
				Usage: "Refresh dynamic content on a timer and on NATS requests",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "time between scheduled refreshes, 0 disables the timer",
						Value: ingest.DefaultInterval,
					},
					&cli.BoolFlag{
						Name:  "run-on-start",
						Usage: "refresh once before waiting",
					},
				},
				Action: watchAction,
			},
			{
				Name:  "trigger",
				Usage: "Ask a running watcher to refresh and print its report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "dynamic or full",
						Value: string(ingest.ModeDynamic),
					},
					&cli.BoolFlag{
						Name:  "recreate",
						Usage: "recreate the collection on a full run",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "how long to wait for the report",
						Value: 5 * time.Minute,
					},
				},
				Action: triggerAction,
			},
		},
	}
}
