// Package uploader pushes staged files to the destination store, at most once
// per month.
package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/downloader"
	"github.com/italolelis/dgi_archiver/internal/logctx"
	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/italolelis/dgi_archiver/internal/telemetry"
)

// Status is the outcome of Upload.
type Status int

const (
	StatusUploaded Status = iota
	StatusAlreadyPresent
	StatusDryRun
)

func (s Status) String() string {
	switch s {
	case StatusUploaded:
		return "uploaded"
	case StatusAlreadyPresent:
		return "already_present"
	case StatusDryRun:
		return "dry_run"
	default:
		return "unknown"
	}
}

type Uploader struct {
	store     archive.Store
	telemetry *telemetry.Telemetry
	timeout   time.Duration
	dryRun    bool
}

type Option func(*Uploader)

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(u *Uploader) { u.telemetry = t }
}

// WithTimeout bounds every store call.
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) { u.timeout = d }
}

// WithDryRun reports what would be uploaded without writing.
func WithDryRun(dryRun bool) Option {
	return func(u *Uploader) { u.dryRun = dryRun }
}

func New(store archive.Store, opts ...Option) *Uploader {
	u := &Uploader{store: store}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

func (u *Uploader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, u.timeout)
}

// Lookup asks the destination whether the month is already archived. It
// returns nil when it is not. Any failure to query the destination is a
// *archive.DestinationError.
func (u *Uploader) Lookup(ctx context.Context, key month.Key) (*archive.StoredFile, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	files, err := u.store.Find(ctx, key.Filename())
	if err != nil {
		return nil, &archive.DestinationError{Operation: "find", Err: err}
	}

	if len(files) == 0 {
		return nil, nil
	}

	newest := files[0]
	for _, f := range files[1:] {
		if f.UploadedAt.After(newest.UploadedAt) {
			newest = f
		}
	}

	return &newest, nil
}

// Upload stores the fetched file under the month's canonical name unless a
// file with that name already exists.
func (u *Uploader) Upload(ctx context.Context, key month.Key, result *downloader.Result) (Status, *archive.StoredFile, error) {
	if result == nil || result.Outcome != downloader.Success || result.Path == "" {
		return 0, nil, errors.New("nothing to upload: fetch did not succeed")
	}

	name := key.Filename()
	logger := logctx.LoggerFromContext(ctx).With("month", key.String(), "name", name)

	existing, err := u.Lookup(ctx, key)
	if err != nil {
		return 0, nil, err
	}

	if existing != nil {
		if existing.Size > 0 && existing.Size != result.Size {
			logger.WarnContext(ctx, "existing file differs in size from the portal copy",
				"existing_size", humanize.Bytes(uint64(existing.Size)),
				"fetched_size", humanize.Bytes(uint64(result.Size)))
		}

		logger.InfoContext(ctx, "file already present, skipping upload", "id", existing.ID)
		u.telemetry.RecordUpload(StatusAlreadyPresent.String())

		return StatusAlreadyPresent, existing, nil
	}

	if u.dryRun {
		logger.InfoContext(ctx, "dry run: would upload file", "size", humanize.Bytes(uint64(result.Size)))
		u.telemetry.RecordUpload(StatusDryRun.String())

		return StatusDryRun, nil, nil
	}

	uploadCtx, cancel := u.withTimeout(ctx)
	defer cancel()

	stored, err := u.store.Upload(uploadCtx, name, result.Path, archive.Metadata{Month: key, Checksum: result.SHA256})
	if err != nil {
		u.telemetry.RecordUpload("error")

		return 0, nil, &archive.UploadError{Name: name, Err: err}
	}

	logger.InfoContext(ctx, "uploaded file", "id", stored.ID, "size", humanize.Bytes(uint64(result.Size)))
	u.telemetry.RecordUpload(StatusUploaded.String())

	return StatusUploaded, stored, nil
}
