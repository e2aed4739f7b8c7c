package archive

import (
	"context"
	"time"

	"github.com/italolelis/dgi_archiver/internal/month"
)

// SpreadsheetMimeType is the content type of every archived file.
const SpreadsheetMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// StoredFile is an entry in the destination store.
type StoredFile struct {
	ID         string
	Name       string
	Size       int64
	UploadedAt time.Time
	Checksum   string // hex sha256 when the store recorded one
}

// Month returns the month the file belongs to. Files that do not follow the
// canonical naming scheme report ok=false.
func (f StoredFile) Month() (month.Key, bool) {
	return month.ParseFilename(f.Name)
}

// Metadata is attached to uploaded files.
type Metadata struct {
	Month    month.Key
	Checksum string
}

// Properties returns the metadata as the flat string map stores accept.
func (m Metadata) Properties() map[string]string {
	props := map[string]string{"period": m.Month.String()}
	if m.Checksum != "" {
		props["sha256"] = m.Checksum
	}

	return props
}

// Store is the destination of archived files.
type Store interface {
	// Ping checks that the destination exists and the credentials are accepted.
	Ping(ctx context.Context) error
	// List returns every file in the destination folder.
	List(ctx context.Context) ([]StoredFile, error)
	// Find returns the files whose name is exactly name.
	Find(ctx context.Context, name string) ([]StoredFile, error)
	// Upload stores the local file at path under name.
	Upload(ctx context.Context, name, path string, meta Metadata) (*StoredFile, error)
	// Delete removes the file with the given id.
	Delete(ctx context.Context, id string) error
}
