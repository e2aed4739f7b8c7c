package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/italolelis/dgi_archiver/internal/logctx"
)

// scheduler fires a job on every tick of a standard five field cron
// expression. Ticks that arrive while the previous job is still running are
// skipped.
type scheduler struct {
	cron *cron.Cron
	spec string
}

func newScheduler(spec string, loc *time.Location, job func()) (*scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("failed to schedule run: %w", err)
	}

	return &scheduler{cron: c, spec: spec}, nil
}

// next returns the next activation after t.
func (s *scheduler) next(t time.Time) time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}

	return entries[0].Schedule.Next(t)
}

func (s *scheduler) start() {
	s.cron.Start()
}

// stop prevents new runs and waits for a running job to finish.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}

func scheduleAction(c *cli.Context) error {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	logger := logctx.LoggerFromContext(ctx)

	a, err := build(ctx, cfg, c.Bool("dry-run"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	spec := cfg.Schedule
	if c.IsSet("cron") {
		spec = c.String("cron")
	}

	job := func() {
		if err := a.runOnce(ctx, time.Now().In(a.loc)); err != nil {
			logger.ErrorContext(ctx, "scheduled run failed", "err", err)
		}
	}

	s, err := newScheduler(spec, a.loc, job)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := newServer(ctx, cfg, newRouter(a, s))

	go func() {
		logger.InfoContext(ctx, "serving metrics and health", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	if c.Bool("run-now") {
		job()
	}

	s.start()
	defer s.stop()

	logger.InfoContext(ctx, "scheduler started", "schedule", spec, "next_run", s.next(time.Now().In(a.loc)))

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}
	}

	logger.InfoContext(ctx, "scheduler stopped")

	return nil
}
