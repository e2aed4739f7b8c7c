// Package gdrive stores archived files in a Google Drive folder.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/italolelis/dgi_archiver/internal/archive"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	fileFields     = "id, name, size, createdTime, appProperties"
)

// Credentials selects how the client authenticates. A service account JSON
// takes precedence over the OAuth refresh token.
type Credentials struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountJSON string
}

// NewHTTPClient returns an http.Client that authorizes requests for the Drive
// API. Token refreshes go through base.
func NewHTTPClient(ctx context.Context, creds Credentials, base *http.Client) (*http.Client, error) {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	if creds.ServiceAccountJSON != "" {
		cfg, err := google.JWTConfigFromJSON([]byte(creds.ServiceAccountJSON), drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
		}

		return cfg.Client(ctx), nil
	}

	if creds.ClientID == "" || creds.ClientSecret == "" || creds.RefreshToken == "" {
		return nil, errors.New("google drive credentials are incomplete: client id, client secret and refresh token are required")
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveScope},
	}

	return cfg.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}), nil
}

// Client implements archive.Store on top of a single Drive folder.
type Client struct {
	svc      *drive.Service
	folderID string
}

// NewClient creates a Drive store for the given folder. Authentication and the
// API endpoint are provided through opts, typically option.WithHTTPClient.
func NewClient(ctx context.Context, folderID string, opts ...option.ClientOption) (*Client, error) {
	if folderID == "" {
		return nil, errors.New("drive folder id is required")
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{svc: svc, folderID: folderID}, nil
}

// Ping checks that the folder exists and is visible to the credentials.
func (c *Client) Ping(ctx context.Context) error {
	folder, err := c.svc.Files.Get(c.folderID).
		Fields("id, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to get folder %s: %w", c.folderID, err)
	}

	if folder.MimeType != folderMimeType {
		return fmt.Errorf("%s is not a folder (mime type %s)", c.folderID, folder.MimeType)
	}

	return nil
}

// List returns the spreadsheets in the folder. Subfolders and native Google
// documents are never listed, whatever their name.
func (c *Client) List(ctx context.Context) ([]archive.StoredFile, error) {
	return c.list(ctx, fmt.Sprintf("'%s' in parents and mimeType='%s' and trashed=false",
		c.folderID, archive.SpreadsheetMimeType))
}

func (c *Client) Find(ctx context.Context, name string) ([]archive.StoredFile, error) {
	return c.list(ctx, fmt.Sprintf("'%s' in parents and name='%s' and mimeType='%s' and trashed=false",
		c.folderID, escape(name), archive.SpreadsheetMimeType))
}

func (c *Client) list(ctx context.Context, query string) ([]archive.StoredFile, error) {
	var files []archive.StoredFile

	err := c.svc.Files.List().
		Q(query).
		Fields(googleapi.Field("nextPageToken, files("+fileFields+")")).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(1000).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				files = append(files, toStoredFile(f))
			}

			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", c.folderID, err)
	}

	return files, nil
}

// Upload creates a new file in the folder with the content of the local file.
func (c *Client) Upload(ctx context.Context, name, path string, meta archive.Metadata) (*archive.StoredFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	file := &drive.File{
		Name:          name,
		Parents:       []string{c.folderID},
		MimeType:      archive.SpreadsheetMimeType,
		AppProperties: meta.Properties(),
	}

	created, err := c.svc.Files.Create(file).
		Media(f, googleapi.ContentType(archive.SpreadsheetMimeType)).
		Fields(fileFields).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	stored := toStoredFile(created)

	return &stored, nil
}

// Delete removes a file by id. A file that is already gone is not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}

	return nil
}

func toStoredFile(f *drive.File) archive.StoredFile {
	stored := archive.StoredFile{
		ID:       f.Id,
		Name:     f.Name,
		Size:     f.Size,
		Checksum: f.AppProperties["sha256"],
	}

	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		stored.UploadedAt = t
	}

	return stored
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error

	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

var _ archive.Store = (*Client)(nil)
