package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/downloader/progress"
	"github.com/italolelis/dgi_archiver/internal/logctx"
	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/italolelis/dgi_archiver/internal/portal"
	"github.com/italolelis/dgi_archiver/internal/telemetry"
	"github.com/italolelis/dgi_archiver/internal/xlsx"
)

const (
	dirPerm = 0755

	progressInterval = 1024 * 1024 // 1MB

	// DefaultUserAgent mimics a desktop browser; the portal rejects unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36"

	acceptHeader = archive.SpreadsheetMimeType + ", application/octet-stream, */*"
)

var errEmptyBody = errors.New("empty response body")

// Attempt is the result of one request to the portal.
type Attempt struct {
	Key        month.Key
	URL        string
	Number     int
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Result is the resolution of a fetch once the retry loop ended.
type Result struct {
	Key      month.Key
	URL      string
	Outcome  Outcome
	Path     string // staged file, only set on Success
	Size     int64
	SHA256   string
	Attempts int
	Err      error // archive.ErrNotPublished for NotFound, *archive.NetworkError for Transient
}

// Cleanup removes the staged file, if any.
func (r *Result) Cleanup() error {
	if r == nil || r.Path == "" {
		return nil
	}

	if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove staged file: %w", err)
	}

	return nil
}

// Config holds the downloader settings.
type Config struct {
	StagingDir string
	UserAgent  string
	Timeout    time.Duration // per attempt
	Policy     Policy
}

// Verifier checks a staged file before it is accepted.
type Verifier func(path string) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Downloader)

func WithVerifier(v Verifier) Option {
	return func(d *Downloader) { d.verify = v }
}

func WithSleep(s SleepFunc) Option {
	return func(d *Downloader) { d.sleep = s }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(d *Downloader) { d.telemetry = t }
}

// Downloader fetches monthly files from the portal into a staging directory.
type Downloader struct {
	client    *http.Client
	locator   *portal.Locator
	cfg       Config
	verify    Verifier
	sleep     SleepFunc
	telemetry *telemetry.Telemetry
}

func New(client *http.Client, locator *portal.Locator, cfg Config, opts ...Option) *Downloader {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = DefaultPolicy()
	}

	d := &Downloader{
		client:  client,
		locator: locator,
		cfg:     cfg,
		verify:  verifySpreadsheet,
		sleep:   Sleep,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NewHTTPClient returns the client used for portal requests. Timeouts are
// applied per attempt through the request context.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func verifySpreadsheet(path string) error {
	_, err := xlsx.Verify(path)

	return err
}

// Fetch downloads the file of the given month, retrying according to the
// policy. Exhausting the retry budget is reported through Result.Outcome and
// Result.Err; the returned error is only set when ctx is done or the staging
// directory is unusable.
func (d *Downloader) Fetch(ctx context.Context, key month.Key) (*Result, error) {
	url := d.locator.URL(key)
	logger := logctx.LoggerFromContext(ctx).With("month", key.String(), "url", url)

	if err := os.MkdirAll(d.cfg.StagingDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	start := time.Now()
	result := &Result{Key: key, URL: url}

	for n := 1; ; n++ {
		att, staged := d.attempt(ctx, logger, key, url, n)
		result.Attempts = n

		if err := ctx.Err(); err != nil {
			removeQuietly(staged)

			return nil, err
		}

		decision := d.cfg.Policy.Decide(n, att.Outcome)

		switch decision.Action {
		case Succeed:
			result.Outcome = Success
			result.Path = staged.path
			result.Size = staged.size
			result.SHA256 = staged.sum

			logger.InfoContext(ctx, "downloaded file", "attempt", n, "size", humanize.Bytes(uint64(staged.size)), "path", staged.path)
		case GiveUp:
			if att.Outcome == NotFound {
				result.Outcome = NotFound
				result.Err = archive.ErrNotPublished

				logger.InfoContext(ctx, "file not published", "attempts", n)
			} else {
				result.Outcome = Transient
				result.Err = &archive.NetworkError{
					Operation:  "fetch",
					URL:        url,
					StatusCode: att.StatusCode,
					Attempts:   n,
					Err:        att.Err,
				}

				logger.ErrorContext(ctx, "giving up on file", "attempts", n, "err", att.Err)
			}
		case Retry:
			logger.WarnContext(ctx, "attempt failed, retrying",
				"attempt", n,
				"max_attempts", d.cfg.Policy.MaxAttempts,
				"outcome", att.Outcome.String(),
				"status_code", att.StatusCode,
				"retry_in", decision.Delay,
				"err", att.Err)

			if err := d.sleep(ctx, decision.Delay); err != nil {
				return nil, err
			}

			continue
		}

		d.telemetry.RecordDownload(result.Outcome.String(), result.Attempts, result.Size, time.Since(start))

		return result, nil
	}
}

type stagedFile struct {
	path string
	size int64
	sum  string
}

func (d *Downloader) attempt(ctx context.Context, logger *slog.Logger, key month.Key, url string, n int) (Attempt, *stagedFile) {
	att := Attempt{Key: key, URL: url, Number: n}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		att.Outcome, att.Err = Transient, fmt.Errorf("failed to create request: %w", err)

		return att, nil
	}

	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		att.Outcome, att.Err = Transient, fmt.Errorf("failed to send request: %w", err)

		return att, nil
	}
	defer resp.Body.Close()

	att.StatusCode = resp.StatusCode

	if resp.StatusCode == http.StatusNotFound {
		att.Outcome, att.Err = NotFound, archive.ErrNotPublished

		return att, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		att.Outcome, att.Err = Transient, fmt.Errorf("unexpected status %s", resp.Status)

		return att, nil
	}

	staged, err := d.stage(ctx, logger, key, resp)
	if err != nil {
		att.Outcome, att.Err = Transient, err

		return att, nil
	}

	att.Outcome = Success

	return att, staged
}

// stage streams the body to a temporary file and moves it to its canonical
// name once it is complete and verified.
func (d *Downloader) stage(ctx context.Context, logger *slog.Logger, key month.Key, resp *http.Response) (*stagedFile, error) {
	tmp, err := os.CreateTemp(d.cfg.StagingDir, key.Filename()+".*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	keep := false
	defer func() {
		if !keep {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	progressCb := func(read int64, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "download progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	}

	hash := sha256.New()
	pr := progress.NewReader(resp.Body, resp.ContentLength, progressInterval, progressCb)

	size, err := io.Copy(io.MultiWriter(tmp, hash), pr)
	if err != nil {
		return nil, fmt.Errorf("failed to copy body: %w", err)
	}

	if size == 0 {
		return nil, errEmptyBody
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	if d.verify != nil {
		if err := d.verify(tmp.Name()); err != nil {
			return nil, fmt.Errorf("downloaded file is not a valid spreadsheet: %w", err)
		}
	}

	target := filepath.Join(d.cfg.StagingDir, key.Filename())
	if err := os.Rename(tmp.Name(), target); err != nil {
		return nil, fmt.Errorf("failed to move staged file: %w", err)
	}

	keep = true

	return &stagedFile{
		path: target,
		size: size,
		sum:  hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func removeQuietly(f *stagedFile) {
	if f != nil {
		os.Remove(f.path)
	}
}
