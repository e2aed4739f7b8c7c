// Package cleanup removes archived files that fell out of the retention window.
package cleanup

import (
	"context"
	"sort"
	"time"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/logctx"
	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/italolelis/dgi_archiver/internal/telemetry"
)

const (
	ReasonExpired   = "expired"
	ReasonDuplicate = "duplicate"
)

// IsExpired reports whether the month ended strictly before the retention
// cutoff. A month ending exactly on the cutoff is kept.
func IsExpired(key month.Key, now time.Time, years int) bool {
	return key.EndOfMonth(now.Location()).Before(month.Cutoff(now, years))
}

// Candidate is a stored file selected for deletion.
type Candidate struct {
	File   archive.StoredFile
	Key    month.Key
	Reason string
	Err    error // set when the delete failed
}

// Report summarises a sweep.
type Report struct {
	Listed         int
	Kept           int
	Foreign        int // files whose name is not a canonical month name, always kept
	Deleted        int
	DeleteFailures int
	Candidates     []Candidate
}

type Sweeper struct {
	store     archive.Store
	years     int
	timeout   time.Duration
	dryRun    bool
	telemetry *telemetry.Telemetry
}

type Option func(*Sweeper)

func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.timeout = d }
}

// WithDryRun logs what would be deleted without deleting.
func WithDryRun(dryRun bool) Option {
	return func(s *Sweeper) { s.dryRun = dryRun }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Sweeper) { s.telemetry = t }
}

func NewSweeper(store archive.Store, years int, opts ...Option) *Sweeper {
	s := &Sweeper{store: store, years: years}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Sweeper) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.timeout)
}

// Sweep deletes every stored file whose month is expired relative to now, and
// every older copy of a month stored more than once. A failure to list the
// store is a *archive.DestinationError; failed deletes are logged and counted.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	listCtx, cancel := s.withTimeout(ctx)
	files, err := s.store.List(listCtx)
	cancel()

	if err != nil {
		return Report{}, &archive.DestinationError{Operation: "list", Err: err}
	}

	report := Report{Listed: len(files)}
	report.Candidates = s.selectCandidates(files, now, &report)

	logger.InfoContext(ctx, "retention sweep",
		"cutoff", month.Cutoff(now, s.years).Format(time.DateOnly),
		"listed", report.Listed,
		"candidates", len(report.Candidates),
		"foreign", report.Foreign)

	for i := range report.Candidates {
		c := &report.Candidates[i]
		clog := logger.With("name", c.File.Name, "id", c.File.ID, "month", c.Key.String(), "reason", c.Reason)

		if s.dryRun {
			clog.InfoContext(ctx, "dry run: would delete file")

			continue
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}

		delCtx, cancel := s.withTimeout(ctx)
		err := s.store.Delete(delCtx, c.File.ID)
		cancel()

		if err != nil {
			c.Err = err
			report.DeleteFailures++
			s.telemetry.RecordDeletion(c.Reason, "error")

			clog.ErrorContext(ctx, "failed to delete file", "err", err)

			continue
		}

		report.Deleted++
		s.telemetry.RecordDeletion(c.Reason, "success")

		clog.InfoContext(ctx, "deleted file")
	}

	return report, nil
}

func (s *Sweeper) selectCandidates(files []archive.StoredFile, now time.Time, report *Report) []Candidate {
	byKey := make(map[month.Key][]archive.StoredFile)

	for _, f := range files {
		k, ok := f.Month()
		if !ok {
			report.Foreign++
			report.Kept++

			continue
		}

		byKey[k] = append(byKey[k], f)
	}

	keys := make([]month.Key, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	var candidates []Candidate

	for _, k := range keys {
		group := byKey[k]

		if IsExpired(k, now, s.years) {
			for _, f := range group {
				candidates = append(candidates, Candidate{File: f, Key: k, Reason: ReasonExpired})
			}

			continue
		}

		// newest first, the first one is kept
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].UploadedAt.Equal(group[j].UploadedAt) {
				return group[i].UploadedAt.After(group[j].UploadedAt)
			}

			return group[i].ID > group[j].ID
		})

		report.Kept++

		for _, f := range group[1:] {
			candidates = append(candidates, Candidate{File: f, Key: k, Reason: ReasonDuplicate})
		}
	}

	return candidates
}
