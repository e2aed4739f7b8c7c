// Package pipeline runs one archive pass: fetch every month of the retention
// window that is not archived yet, upload it, then sweep expired files.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/cleanup"
	"github.com/italolelis/dgi_archiver/internal/downloader"
	"github.com/italolelis/dgi_archiver/internal/logctx"
	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/italolelis/dgi_archiver/internal/notifier"
	"github.com/italolelis/dgi_archiver/internal/telemetry"
	"github.com/italolelis/dgi_archiver/internal/uploader"
)

const (
	stageFetch  = "fetch"
	stageUpload = "upload"
)

// Fetcher retrieves a month's file from the portal.
type Fetcher interface {
	Fetch(ctx context.Context, key month.Key) (*downloader.Result, error)
}

// Sink stores fetched files at most once per month.
type Sink interface {
	Lookup(ctx context.Context, key month.Key) (*archive.StoredFile, error)
	Upload(ctx context.Context, key month.Key, result *downloader.Result) (uploader.Status, *archive.StoredFile, error)
}

// Sweeper enforces retention on the destination.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (cleanup.Report, error)
}

type Config struct {
	Years        int
	BatchSize    int           // fetches between pauses, 0 disables pausing
	BatchPause   time.Duration // pause between batches
	StoreTimeout time.Duration
	DryRun       bool
}

type Pipeline struct {
	store     archive.Store
	fetcher   Fetcher
	sink      Sink
	sweeper   Sweeper
	notifier  notifier.Notifier
	telemetry *telemetry.Telemetry
	sleep     downloader.SleepFunc
	cfg       Config
}

type Option func(*Pipeline)

func WithNotifier(n notifier.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Pipeline) { p.telemetry = t }
}

func WithSleep(s downloader.SleepFunc) Option {
	return func(p *Pipeline) { p.sleep = s }
}

func New(store archive.Store, fetcher Fetcher, sink Sink, sweeper Sweeper, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		fetcher:  fetcher,
		sink:     sink,
		sweeper:  sweeper,
		notifier: notifier.Nop{},
		sleep:    downloader.Sleep,
		cfg:      cfg,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run archives the window ending in the month of now. The returned error is
// set when the run had to stop early: the destination could not be reached or
// ctx was cancelled. Upload failures do not stop the run and are reported by
// Summary.Err.
func (p *Pipeline) Run(ctx context.Context, now time.Time) (*Summary, error) {
	from, to := month.Window(now, p.cfg.Years)

	summary := &Summary{
		RunID:  uuid.NewString(),
		From:   from,
		To:     to,
		DryRun: p.cfg.DryRun,
	}

	ctx = logctx.WithRunID(ctx, summary.RunID)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "starting run", "from", from.String(), "to", to.String(), "years", p.cfg.Years, "dry_run", p.cfg.DryRun)

	start := time.Now()

	var fatal error

	_ = p.telemetry.InstrumentRun(ctx, func(ctx context.Context) error {
		fatal = p.run(ctx, now, summary)
		if fatal != nil {
			return fatal
		}

		return summary.Err()
	})

	summary.Duration = time.Since(start)

	if fatal != nil {
		logger.ErrorContext(ctx, "run aborted", "summary", summary, "err", fatal)
		p.notify(ctx, fmt.Sprintf("❌ DGI archive run %s aborted: %v\n%s", summary.RunID, fatal, summary.Message()))

		return summary, fatal
	}

	if err := summary.Err(); err != nil {
		logger.ErrorContext(ctx, "run finished with failures", "summary", summary, "err", err)
	} else {
		logger.InfoContext(ctx, "run finished", "summary", summary)
	}

	p.notify(ctx, summary.Message())

	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, now time.Time, summary *Summary) error {
	if err := p.ping(ctx); err != nil {
		return err
	}

	fetches := 0

	for key := range month.Seq(summary.From, summary.To) {
		if err := ctx.Err(); err != nil {
			return err
		}

		summary.Months++

		existing, err := p.sink.Lookup(ctx, key)
		if err != nil {
			return err
		}

		if existing != nil {
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "already archived", "month", key.String(), "id", existing.ID)
			summary.SkippedPresent++

			continue
		}

		if p.cfg.BatchSize > 0 && fetches > 0 && fetches%p.cfg.BatchSize == 0 {
			if err := p.sleep(ctx, p.cfg.BatchPause); err != nil {
				return err
			}
		}

		fetches++

		result, err := p.fetcher.Fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", key, err)
		}

		if err := p.handle(ctx, key, result, summary); err != nil {
			return err
		}
	}

	report, err := p.sweeper.Sweep(ctx, now)
	if err != nil {
		return err
	}

	summary.Deleted = report.Deleted
	summary.DeleteFailures = report.DeleteFailures
	summary.Kept = report.Kept

	return nil
}

func (p *Pipeline) ping(ctx context.Context) error {
	if p.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, p.cfg.StoreTimeout)
		defer cancel()
	}

	if err := p.store.Ping(ctx); err != nil {
		return &archive.DestinationError{Operation: "ping", Err: err}
	}

	return nil
}

// handle records the outcome of a fetch. Only fatal destination errors are
// returned.
func (p *Pipeline) handle(ctx context.Context, key month.Key, result *downloader.Result, summary *Summary) error {
	logger := logctx.LoggerFromContext(ctx).With("month", key.String())

	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.WarnContext(ctx, "failed to remove staged file", "path", result.Path, "err", err)
		}
	}()

	switch result.Outcome {
	case downloader.Success:
		status, _, err := p.sink.Upload(ctx, key, result)
		if err != nil {
			if archive.IsFatal(err) {
				return err
			}

			logger.ErrorContext(ctx, "failed to upload file", "err", err)

			summary.UploadFailures++
			summary.Failures = append(summary.Failures, Failure{Key: key, Stage: stageUpload, Err: err})

			return nil
		}

		switch status {
		case uploader.StatusAlreadyPresent:
			summary.SkippedPresent++
		case uploader.StatusUploaded, uploader.StatusDryRun:
			summary.Uploaded++
		}
	case downloader.NotFound:
		summary.SkippedUnpublished++
	case downloader.Transient:
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{Key: key, Stage: stageFetch, Err: result.Err})
	}

	return nil
}

func (p *Pipeline) notify(ctx context.Context, content string) {
	if err := p.notifier.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to send notification", "err", err)
	}
}
