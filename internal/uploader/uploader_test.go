package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/archive/archivetest"
	"github.com/italolelis/dgi_archiver/internal/downloader"
	"github.com/italolelis/dgi_archiver/internal/month"
)

var march2026 = month.New(2026, time.March)

func fetched(t *testing.T, content string) *downloader.Result {
	t.Helper()

	path := filepath.Join(t.TempDir(), march2026.Filename())
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return &downloader.Result{
		Key:     march2026,
		Outcome: downloader.Success,
		Path:    path,
		Size:    int64(len(content)),
		SHA256:  "checksum",
	}
}

func TestLookup(t *testing.T) {
	store := archivetest.NewStore()
	u := New(store)

	got, err := u.Lookup(context.Background(), march2026)
	require.NoError(t, err)
	assert.Nil(t, got)

	store.Put("FICHIER_MARS_2026.xlsx", 10, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC))
	newest := store.Put("FICHIER_MARS_2026.xlsx", 12, time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC))

	got, err = u.Lookup(context.Background(), march2026)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newest, got.ID)
}

func TestLookup_DestinationError(t *testing.T) {
	store := archivetest.NewStore()
	store.FindErr = errors.New("401 unauthorized")

	_, err := New(store).Lookup(context.Background(), march2026)

	var destErr *archive.DestinationError
	require.ErrorAs(t, err, &destErr)
	assert.Equal(t, "find", destErr.Operation)
	assert.True(t, archive.IsFatal(err))
}

func TestUpload_StoresOnce(t *testing.T) {
	store := archivetest.NewStore()
	u := New(store, WithTimeout(time.Second))
	result := fetched(t, "payload")

	status, stored, err := u.Upload(context.Background(), march2026, result)
	require.NoError(t, err)
	assert.Equal(t, StatusUploaded, status)
	assert.Equal(t, "FICHIER_MARS_2026.xlsx", stored.Name)
	assert.Equal(t, "checksum", stored.Checksum)
	assert.Equal(t, []byte("payload"), store.Content("FICHIER_MARS_2026.xlsx"))

	status, stored, err = u.Upload(context.Background(), march2026, result)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyPresent, status)
	assert.NotNil(t, stored)

	assert.Equal(t, 1, store.Uploads)
	assert.Equal(t, []string{"FICHIER_MARS_2026.xlsx"}, store.Names())
}

func TestUpload_PresentWithDifferentSizeIsKept(t *testing.T) {
	store := archivetest.NewStore()
	id := store.Put("FICHIER_MARS_2026.xlsx", 999, time.Now())

	status, stored, err := New(store).Upload(context.Background(), march2026, fetched(t, "payload"))
	require.NoError(t, err)

	assert.Equal(t, StatusAlreadyPresent, status)
	assert.Equal(t, id, stored.ID)
	assert.Zero(t, store.Uploads)
}

func TestUpload_Failure(t *testing.T) {
	store := archivetest.NewStore()
	store.UploadErr = errors.New("quota exceeded")

	_, _, err := New(store).Upload(context.Background(), march2026, fetched(t, "payload"))

	var uploadErr *archive.UploadError
	require.ErrorAs(t, err, &uploadErr)
	assert.Equal(t, "FICHIER_MARS_2026.xlsx", uploadErr.Name)
	assert.False(t, archive.IsFatal(err))
}

func TestUpload_DryRun(t *testing.T) {
	store := archivetest.NewStore()

	status, stored, err := New(store, WithDryRun(true)).Upload(context.Background(), march2026, fetched(t, "payload"))
	require.NoError(t, err)

	assert.Equal(t, StatusDryRun, status)
	assert.Nil(t, stored)
	assert.Empty(t, store.Names())
}

func TestUpload_RejectsUnsuccessfulFetch(t *testing.T) {
	u := New(archivetest.NewStore())

	_, _, err := u.Upload(context.Background(), march2026, &downloader.Result{Outcome: downloader.NotFound})
	assert.Error(t, err)

	_, _, err = u.Upload(context.Background(), march2026, nil)
	assert.Error(t, err)
}
