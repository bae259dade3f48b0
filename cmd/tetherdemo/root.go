package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/tether"
	audithook "github.com/xraph/tether/audit_hook"
	"github.com/xraph/tether/engine"
	"github.com/xraph/tether/fanout"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/queue"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/store/memory"
	"github.com/xraph/tether/store/postgres"
	tetherredis "github.com/xraph/tether/store/redis"
)

const (
	parentQueue = "parentQueue"
	childQueue  = "childQueue"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tetherdemo",
		Short:         "Run parent jobs that wait for their children",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}
	bindFlags(cmd.Flags())
	return cmd
}

// openStore returns the configured store and a release func for the
// connections opened for it, to run once the store is closed.
func openStore(ctx context.Context, cfg *config, logger *slog.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store {
	case "memory":
		return memory.New(), noop, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	default:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		return tetherredis.New(client, tetherredis.WithLogger(logger)), client.Close, nil
	}
}

// run adds the parents and prints their status until every parent is
// terminal or ctx is cancelled.
func run(ctx context.Context, cfg *config, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.logLevel()}))

	s, release, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	// Deferred first so it runs after the engine has stopped.
	defer func() {
		if err := release(); err != nil {
			logger.Warn("close store connection", slog.String("error", err.Error()))
		}
	}()
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("ping %s store: %w", cfg.Store, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return fmt.Errorf("migrate %s store: %w", cfg.Store, err)
	}

	t, err := tether.New(
		tether.WithConfig(cfg.tetherConfig()),
		tether.WithLogger(logger),
		tether.WithStore(s),
	)
	if err != nil {
		_ = s.Close()
		return err
	}
	var opts []engine.Option
	if cfg.Audit {
		opts = append(opts, engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger))))
	}
	eng, err := engine.Build(t, opts...)
	if err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if err := eng.Stop(context.Background()); err != nil {
			logger.Error("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	parents, err := eng.Queue(parentQueue)
	if err != nil {
		return err
	}
	if _, err := eng.Work(ctx, parentQueue, fanout.NewParent(childQueue, cfg.Child.Count, fanout.WithLogger(logger))); err != nil {
		return err
	}
	if _, err := eng.Work(ctx, childQueue, fanout.NewChild(cfg.Child.Delay, logger), engine.WithConcurrency(cfg.Child.Concurrency)); err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	added := make([]*job.Job, 0, cfg.Parents)
	for i := range cfg.Parents {
		j, err := parents.Add(ctx, fmt.Sprintf("parent_job:%d", i+1), fanout.ParentData{Step: fanout.Initial})
		if err != nil {
			return fmt.Errorf("add parent job: %w", err)
		}
		added = append(added, j)
	}
	logger.Info("added parent jobs", slog.Int("count", len(added)))

	ticker := time.NewTicker(cfg.Status.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			done, err := printStatus(ctx, out, parents, added)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// printStatus writes one line per parent and reports whether all of them
// are terminal.
func printStatus(ctx context.Context, out io.Writer, q *queue.Queue, jobs []*job.Job) (bool, error) {
	done := true
	for _, p := range jobs {
		j, err := q.GetJob(ctx, p.ID)
		if err != nil {
			return false, err
		}
		var data fanout.ParentData
		if err := j.Decode(&data); err != nil {
			return false, err
		}
		waiting, err := q.IsWaitingChildren(ctx, p.ID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "%s status=%d state=%s isWaitingChildren=%t\n", j.Name, data.Step, j.State, waiting)
		if !j.State.IsTerminal() {
			done = false
		}
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(out, "%s: waiting=%d active=%d waiting-children=%d completed=%d failed=%d\n",
		q.Name(),
		counts[job.StateWaiting], counts[job.StateActive], counts[job.StateWaitingChildren],
		counts[job.StateCompleted], counts[job.StateFailed],
	)
	return done, nil
}
