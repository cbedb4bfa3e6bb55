// Command dsearchctl ingests and queries the document index without going
// through the HTTP API. It shares configuration with the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/dsearch/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "dsearchctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "dsearchctl",
		Usage:   "Ingest and query the hybrid document index",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file (default: config/<env>.yaml)",
				EnvVars: []string{"DSEARCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Index documents from a JSON, JSON Lines or Parquet file",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Document file (.json, .jsonl, .ndjson or .parquet)",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Print per-document failures and exit non-zero unless every document was indexed",
					},
				},
			},
			{
				Name:   "search",
				Usage:  "Run a search query",
				Action: searchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Search mode (hybrid, keyword, semantic)",
						Value: "hybrid",
					},
					&cli.BoolFlag{
						Name:  "bypass-cache",
						Usage: "Skip the result cache lookup",
					},
				},
			},
			{
				Name:   "similar",
				Usage:  "List documents semantically similar to an indexed one",
				Action: similarCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Reference document id",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 10,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Minimum cosine similarity (0-1)",
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect ingestion jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List jobs, newest first",
						Action: jobsListCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "status", Usage: "Only jobs in this status"},
							&cli.StringFlag{Name: "source", Usage: "Only jobs from this source (api, cli, scheduler)"},
							&cli.IntFlag{Name: "limit", Usage: "Maximum number of jobs", Value: 50},
						},
					},
					{
						Name:      "get",
						Usage:     "Show a job with its per-document outcomes",
						ArgsUsage: "<job-id>",
						Action:    jobsGetCommand,
					},
					{
						Name:   "stats",
						Usage:  "Show aggregate job statistics",
						Action: jobsStatsCommand,
					},
				},
			},
			{
				Name:   "maintain",
				Usage:  "Create missing indexes and remove expired job records",
				Action: maintainCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rebuild-lexical",
						Usage: "Drop and recreate the full-text index, e.g. after changing field boosts or filter fields",
					},
				},
			},
		},
	}
}
