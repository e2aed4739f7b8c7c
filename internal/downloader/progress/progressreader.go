package progress

import (
	"errors"
	"io"
)

// ProgressReader wraps an io.Reader and reports progress via a callback every
// interval bytes and once more when the underlying reader hits EOF.
type ProgressReader struct {
	Reader     io.Reader
	Total      int64 // expected size, <= 0 when unknown
	OnProgress func(read int64, total int64)

	read           int64
	sinceReport    int64
	reportInterval int64
	done           bool
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *ProgressReader {
	return &ProgressReader{
		Reader:         r,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// BytesRead returns the number of bytes read so far.
func (pr *ProgressReader) BytesRead() int64 {
	return pr.read
}

func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceReport += int64(n)

		if pr.reportInterval > 0 && pr.sinceReport >= pr.reportInterval {
			pr.report()
		}
	}

	if errors.Is(err, io.EOF) && !pr.done {
		pr.done = true
		pr.report()
	}

	return n, err
}

func (pr *ProgressReader) report() {
	pr.sinceReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.read, pr.Total)
	}
}
