package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/api/option"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/archive/gdrive"
	"github.com/italolelis/dgi_archiver/internal/archive/s3"
	"github.com/italolelis/dgi_archiver/internal/cleanup"
	"github.com/italolelis/dgi_archiver/internal/config"
	"github.com/italolelis/dgi_archiver/internal/downloader"
	"github.com/italolelis/dgi_archiver/internal/logctx"
	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/italolelis/dgi_archiver/internal/notifier"
	"github.com/italolelis/dgi_archiver/internal/pipeline"
	"github.com/italolelis/dgi_archiver/internal/portal"
	"github.com/italolelis/dgi_archiver/internal/telemetry"
	"github.com/italolelis/dgi_archiver/internal/uploader"
)

const serviceName = "dgi_archiver"

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env file", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	runFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "date",
			Usage: "reference date (YYYY-MM-DD) the window ends on, defaults to today",
		},
		&cli.IntFlag{
			Name:  "years",
			Usage: "retention window in years, overrides RETENTION_YEARS",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "fetch and verify files but do not upload or delete anything",
		},
	}

	return &cli.App{
		Name:    serviceName,
		Usage:   "archive the monthly DGI Cameroon taxpayer lists",
		Version: version,
		Flags:   runFlags,
		Action:  runAction,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run one archive pass and exit",
				Flags:  runFlags,
				Action: runAction,
			},
			{
				Name:  "schedule",
				Usage: "keep running and start an archive pass on every cron tick",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "cron",
						Usage: "cron expression, overrides SCHEDULE",
					},
					&cli.BoolFlag{
						Name:  "run-now",
						Usage: "also run once at startup",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "fetch and verify files but do not upload or delete anything",
					},
				},
				Action: scheduleAction,
			},
			{
				Name:   "window",
				Usage:  "print the months, file names and portal URLs of the retention window",
				Flags:  []cli.Flag{runFlags[0], runFlags[1]},
				Action: windowAction,
			},
		},
	}
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	if c.IsSet("years") {
		cfg.RetentionYears = c.Int("years")
	}

	return cfg, nil
}

func setup(c *cli.Context) (context.Context, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logctx.New(os.Stdout, cfg.SlogLevel()).With("version", version)
	slog.SetDefault(logger)

	return logctx.WithLogger(c.Context, logger), cfg, nil
}

// referenceTime returns the moment the window is computed from, in loc.
func referenceTime(date string, loc *time.Location, now func() time.Time) (time.Time, error) {
	if date == "" {
		return now().In(loc), nil
	}

	t, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q, expected YYYY-MM-DD: %w", date, err)
	}

	return t, nil
}

func runAction(c *cli.Context) error {
	ctx, cfg, err := setup(c)
	if err != nil {
		return err
	}

	a, err := build(ctx, cfg, c.Bool("dry-run"))
	if err != nil {
		return err
	}
	defer a.close(ctx)

	now, err := referenceTime(c.String("date"), a.loc, time.Now)
	if err != nil {
		return err
	}

	return a.runOnce(ctx, now)
}

func windowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if err := config.ValidateRetentionYears(cfg.RetentionYears); err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	locator, err := portal.NewLocator(cfg.PortalURLTemplate)
	if err != nil {
		return err
	}

	now, err := referenceTime(c.String("date"), loc, time.Now)
	if err != nil {
		return err
	}

	w := c.App.Writer

	fmt.Fprintf(w, "retention: %d years, cutoff %s\n", cfg.RetentionYears, month.Cutoff(now, cfg.RetentionYears).Format(time.DateOnly))

	for k := range month.Seq(month.Window(now, cfg.RetentionYears)) {
		fmt.Fprintf(w, "%s\t%s\t%s\n", k, k.Filename(), locator.URL(k))
	}

	return nil
}

// archiver holds the components of a configured process.
type archiver struct {
	pipeline  *pipeline.Pipeline
	telemetry *telemetry.Telemetry
	loc       *time.Location
	last      atomic.Pointer[runStatus]
}

// runStatus is the outcome of the latest run, reported by /healthz.
type runStatus struct {
	RunID      string    `json:"run_id"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

func (a *archiver) runOnce(ctx context.Context, now time.Time) error {
	summary, err := a.pipeline.Run(ctx, now)
	if err == nil {
		err = summary.Err()
	}

	status := &runStatus{RunID: summary.RunID, FinishedAt: time.Now().In(a.loc)}
	if err != nil {
		status.Error = err.Error()
	}

	a.last.Store(status)

	if ferr := a.telemetry.Flush(ctx); ferr != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to push metrics", "err", ferr)
	}

	return err
}

func (a *archiver) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := a.telemetry.Shutdown(ctx); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to shutdown telemetry", "err", err)
	}
}

func build(ctx context.Context, cfg *config.Config, dryRun bool) (*archiver, error) {
	logger := logctx.LoggerFromContext(ctx)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		PushgatewayURL: cfg.PushgatewayURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// =========================================================================
	// Start Destination Store
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build destination store: %w", err)
	}

	instrumented := archive.NewInstrumentedStore(store, tel, cfg.Destination)

	// =========================================================================
	// Start Portal Downloader
	locator, err := portal.NewLocator(cfg.PortalURLTemplate)
	if err != nil {
		return nil, err
	}

	fetcher := downloader.New(downloader.NewHTTPClient(), locator, downloader.Config{
		StagingDir: cfg.StagingDir,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.DownloadTimeout,
		Policy: downloader.Policy{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
	}, downloader.WithTelemetry(tel))

	sink := uploader.New(instrumented,
		uploader.WithTelemetry(tel),
		uploader.WithTimeout(cfg.StoreTimeout),
		uploader.WithDryRun(dryRun),
	)

	sweeper := cleanup.NewSweeper(instrumented, cfg.RetentionYears,
		cleanup.WithTelemetry(tel),
		cleanup.WithTimeout(cfg.StoreTimeout),
		cleanup.WithDryRun(dryRun),
	)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	p := pipeline.New(instrumented, fetcher, sink, sweeper, pipeline.Config{
		Years:        cfg.RetentionYears,
		BatchSize:    cfg.BatchSize,
		BatchPause:   cfg.BatchPause,
		StoreTimeout: cfg.StoreTimeout,
		DryRun:       dryRun,
	}, pipeline.WithNotifier(notif), pipeline.WithTelemetry(tel))

	logger.Info("archiver ready",
		"destination", cfg.Destination,
		"retention_years", cfg.RetentionYears,
		"timezone", loc.String(),
		"staging_dir", cfg.StagingDir,
		"dry_run", dryRun,
	)

	return &archiver{pipeline: p, telemetry: tel, loc: loc}, nil
}

// This is an abstract factory for the destination store.
func buildStore(ctx context.Context, cfg *config.Config) (archive.Store, error) {
	base := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	switch cfg.Destination {
	case config.DestinationGDrive:
		httpClient, err := gdrive.NewHTTPClient(context.WithoutCancel(ctx), gdrive.Credentials{
			ClientID:           cfg.GoogleClientID,
			ClientSecret:       cfg.GoogleClientSecret,
			RefreshToken:       cfg.GoogleRefreshToken,
			ServiceAccountJSON: cfg.GoogleCredentials,
		}, base)
		if err != nil {
			return nil, err
		}

		client, err := gdrive.NewClient(ctx, cfg.DriveFolderID, option.WithHTTPClient(httpClient))
		if err != nil {
			return nil, err
		}

		return client, nil
	case config.DestinationS3:
		client, err := s3.NewClient(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Transport: base.Transport,
		})
		if err != nil {
			return nil, err
		}

		return client, nil
	}

	return nil, fmt.Errorf("invalid destination: %s", cfg.Destination)
}
