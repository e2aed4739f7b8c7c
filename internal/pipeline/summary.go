package pipeline

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/dgi_archiver/internal/month"
)

// Failure is a month that could not be archived during a run.
type Failure struct {
	Key   month.Key
	Stage string // "fetch" or "upload"
	Err   error
}

// Summary is the account of a single run.
type Summary struct {
	RunID  string
	From   month.Key
	To     month.Key
	DryRun bool

	Months             int
	Uploaded           int
	SkippedPresent     int
	SkippedUnpublished int
	Failed             int // fetches that ran out of attempts
	UploadFailures     int

	Deleted        int
	DeleteFailures int
	Kept           int

	Failures []Failure
	Duration time.Duration
}

// Err is non-nil when at least one upload failed. Months that could not be
// fetched are reported but do not fail the run; they are retried next time.
func (s *Summary) Err() error {
	if s.UploadFailures == 0 {
		return nil
	}

	var names []string

	for _, f := range s.Failures {
		if f.Stage == stageUpload {
			names = append(names, f.Key.Filename())
		}
	}

	return fmt.Errorf("%d upload(s) failed: %s", s.UploadFailures, strings.Join(names, ", "))
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.String("from", s.From.String()),
		slog.String("to", s.To.String()),
		slog.Bool("dry_run", s.DryRun),
		slog.Int("months", s.Months),
		slog.Int("uploaded", s.Uploaded),
		slog.Int("skipped_present", s.SkippedPresent),
		slog.Int("skipped_unpublished", s.SkippedUnpublished),
		slog.Int("failed", s.Failed),
		slog.Int("upload_failures", s.UploadFailures),
		slog.Int("deleted", s.Deleted),
		slog.Int("delete_failures", s.DeleteFailures),
		slog.Int("kept", s.Kept),
		slog.Duration("duration", s.Duration),
	)
}

// Message renders the summary for chat notifications.
func (s *Summary) Message() string {
	var b strings.Builder

	status := "✅"
	if s.Err() != nil {
		status = "❌"
	} else if s.Failed > 0 {
		status = "⚠️"
	}

	prefix := ""
	if s.DryRun {
		prefix = "[dry run] "
	}

	fmt.Fprintf(&b, "%s %sDGI archive %s → %s finished in %s\n", status, prefix, s.From, s.To, s.Duration.Round(time.Second))
	fmt.Fprintf(&b, "uploaded: %d, already archived: %d, not yet published: %d, failed: %d, upload failures: %d\n",
		s.Uploaded, s.SkippedPresent, s.SkippedUnpublished, s.Failed, s.UploadFailures)
	fmt.Fprintf(&b, "retention: %d deleted, %d delete failures, %d kept", s.Deleted, s.DeleteFailures, s.Kept)

	for _, f := range s.Failures {
		fmt.Fprintf(&b, "\n- %s (%s): %v", f.Key, f.Stage, f.Err)
	}

	return b.String()
}
