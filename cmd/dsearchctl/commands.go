package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dsearch/internal/app"
	"github.com/kailas-cloud/dsearch/internal/config"
	"github.com/kailas-cloud/dsearch/internal/domain/job"
	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/dsearch/internal/domain/search/mode"
	"github.com/kailas-cloud/dsearch/internal/domain/search/request"
	"github.com/kailas-cloud/dsearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/dsearch/internal/logger"
	ingestuc "github.com/kailas-cloud/dsearch/internal/usecase/ingest"
)

// drainTimeout bounds how long the CLI waits for a submitted job on exit.
const drainTimeout = 30 * time.Minute

// withApp loads configuration, builds the application and runs fn with it.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App, logger *zap.Logger) error) error {
	env := config.GetEnv()
	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger, err := logpkg.NewLogger(env, level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := c.Context
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Error("Close failed", zap.Error(err))
		}
	}()

	return fn(ctx, a, logger)
}

func ingestCommand(c *cli.Context) error {
	records, err := ingestuc.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	docs, err := ingestuc.Documents(records)
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		if err := a.EnsureIndexes(ctx); err != nil {
			return err
		}
		if err := a.Embedding.Load(ctx); err != nil {
			return err
		}
		j, err := a.Ingest.Submit(ctx, docs, job.SourceCLI)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "job %s submitted with %d documents\n", j.ID, len(docs))

		j, err = a.Ingest.Wait(ctx, j.ID)
		if err != nil {
			return err
		}
		printJob(c.App.Writer, j, c.Bool("wait"))
		if c.Bool("wait") {
			if err := ingestuc.JobError(j); err != nil {
				return cli.Exit(err.Error(), 2)
			}
		}
		return nil
	})
}

func searchCommand(c *cli.Context) error {
	m, err := mode.Parse(c.String("mode"))
	if err != nil {
		return err
	}
	req, err := request.New(c.String("query"), m, filter.Expression{}, nil, c.Int("limit"), c.Bool("bypass-cache"))
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App, logger *zap.Logger) error {
		if m.UsesVector() {
			if err := a.Embedding.Load(ctx); err != nil {
				logger.Warn("Embedding model not loaded, vector search will be skipped", zap.Error(err))
			}
		}
		resp, err := a.Search.Search(ctx, &req)
		if err != nil {
			return err
		}
		printHits(c.App.Writer, &resp)
		return nil
	})
}

func similarCommand(c *cli.Context) error {
	req, err := request.NewSimilar(c.String("id"), filter.Expression{}, c.Int("limit"), c.Float64("min-score"))
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		resp, err := a.Search.Similar(ctx, &req)
		if err != nil {
			return err
		}
		printHits(c.App.Writer, &resp)
		return nil
	})
}

func jobsListCommand(c *cli.Context) error {
	f, err := jobFilter(c.String("status"), c.String("source"), c.Int("limit"))
	if err != nil {
		return err
	}
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		jobs, err := a.Ingest.List(ctx, f)
		if err != nil {
			return err
		}
		printJobs(c.App.Writer, jobs)
		return nil
	})
}

func jobsGetCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("job id is required")
	}
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		j, err := a.Ingest.Get(ctx, id)
		if err != nil {
			return err
		}
		printJob(c.App.Writer, j, true)
		return nil
	})
}

func jobsStatsCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		stats, err := a.Ingest.Stats(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	})
}

func maintainCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App, _ *zap.Logger) error {
		removed, err := a.Maintain(ctx, c.Bool("rebuild-lexical"))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "indexes ensured, %d expired jobs removed\n", removed)
		return nil
	})
}

func jobFilter(status, source string, limit int) (job.Filter, error) {
	f := job.Filter{Status: job.Status(status), Source: job.Source(source), Limit: limit}
	if status != "" && !f.Status.IsValid() {
		return job.Filter{}, fmt.Errorf("unknown job status %q", status)
	}
	if source != "" && !f.Source.IsValid() {
		return job.Filter{}, fmt.Errorf("unknown job source %q", source)
	}
	if limit < 0 {
		return job.Filter{}, fmt.Errorf("limit must not be negative")
	}
	return f, nil
}

func printHits(w io.Writer, resp *result.Response) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tID\tTITLE")
	for i := range resp.Hits {
		h := &resp.Hits[i]
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\n", i+1, h.Score(), h.ID(), h.Title())
	}
	_ = tw.Flush()

	var notes []string
	if resp.Cached {
		notes = append(notes, "cached")
	}
	if resp.Degraded {
		for name, st := range resp.Backends {
			if st != result.BackendOK && st != result.BackendSkipped {
				notes = append(notes, fmt.Sprintf("%s %s", name, st))
			}
		}
	}
	fmt.Fprintf(w, "%d results in %s", len(resp.Hits), resp.Took.Round(time.Millisecond))
	if len(notes) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(notes, ", "))
	}
	fmt.Fprintln(w)
}

func printJobs(w io.Writer, jobs []*job.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tDOCS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Status, j.Source, j.Summary().Total, j.CreatedAt.UTC().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printJob(w io.Writer, j *job.Job, withFailures bool) {
	sum := j.Summary()
	fmt.Fprintf(w, "job %s: %s (attempt %d)\n", j.ID, j.Status, j.Attempts)
	fmt.Fprintf(w, "  completed=%d partial=%d failed=%d cancelled=%d pending=%d total=%d\n",
		sum.Completed, sum.PartialFailure, sum.Failed, sum.Cancelled, sum.Pending, sum.Total)
	if j.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", j.Error)
	}
	if !withFailures {
		return
	}
	for _, o := range j.Outcomes {
		if o.Status == job.StatusCompleted {
			continue
		}
		fmt.Fprintf(w, "  #%d %s: %s %s %s\n", o.Index, o.ID, o.Status, o.Kind, o.Message)
	}
}
