package archive

import (
	"errors"
	"fmt"
)

// ErrNotPublished reports that the portal has no file for a month yet. It is an
// expected outcome, not a failure of the run.
var ErrNotPublished = errors.New("not yet published")

// NetworkError represents a portal fetch that kept failing until the retry
// budget ran out: transport errors, timeouts, non-2xx responses or bodies that
// are empty or not a spreadsheet.
type NetworkError struct {
	Operation  string // e.g. "fetch"
	URL        string // The URL that was requested
	StatusCode int    // HTTP status of the last attempt, 0 when no response was received
	Attempts   int    // Number of attempts made
	Err        error  // Error of the last attempt
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s after %d attempts (HTTP %d): %v", e.Operation, e.URL, e.Attempts, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("network error during %s of %s after %d attempts: %v", e.Operation, e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UploadError represents a file the destination refused or failed to store.
// The month is retried on the next run.
type UploadError struct {
	Name string // Destination file name
	Err  error  // Underlying error, if any
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// DestinationError represents a destination that cannot be queried at all,
// including authentication failures. No further progress is possible once it
// happens.
type DestinationError struct {
	Operation string // The store operation that failed (e.g. "ping", "list", "find")
	Err       error  // Underlying error, if any
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination unreachable during %s: %v", e.Operation, e.Err)
}

func (e *DestinationError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var destErr *DestinationError

	return errors.As(err, &destErr)
}
