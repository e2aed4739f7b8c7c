// Package s3 stores archived files in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/italolelis/dgi_archiver/internal/archive"
)

// Config holds the bucket coordinates and credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool

	// Transport overrides the HTTP transport, e.g. with an instrumented one.
	Transport http.RoundTripper
}

// Client implements archive.Store on top of a bucket. Object keys are the
// prefix followed by the file name and double as file ids.
type Client struct {
	mc     *minio.Client
	bucket string
	prefix string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &Client{mc: mc, bucket: cfg.Bucket, prefix: normalizePrefix(cfg.Prefix)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", c.bucket, err)
	}

	if !ok {
		return fmt.Errorf("bucket %s does not exist", c.bucket)
	}

	return nil
}

func (c *Client) List(ctx context.Context) ([]archive.StoredFile, error) {
	var files []archive.StoredFile

	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: c.prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket %s: %w", c.bucket, obj.Err)
		}

		if strings.HasSuffix(obj.Key, "/") {
			continue
		}

		files = append(files, c.toStoredFile(obj))
	}

	return files, nil
}

func (c *Client) Find(ctx context.Context, name string) ([]archive.StoredFile, error) {
	obj, err := c.mc.StatObject(ctx, c.bucket, c.key(name), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	return []archive.StoredFile{c.toStoredFile(obj)}, nil
}

func (c *Client) Upload(ctx context.Context, name, filePath string, meta archive.Metadata) (*archive.StoredFile, error) {
	info, err := c.mc.FPutObject(ctx, c.bucket, c.key(name), filePath, minio.PutObjectOptions{
		ContentType:  archive.SpreadsheetMimeType,
		UserMetadata: meta.Properties(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}

	return &archive.StoredFile{
		ID:         info.Key,
		Name:       name,
		Size:       info.Size,
		UploadedAt: info.LastModified,
		Checksum:   meta.Checksum,
	}, nil
}

// Delete removes the object with the given key. S3 deletes are idempotent.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	return nil
}

func (c *Client) key(name string) string {
	return c.prefix + name
}

func (c *Client) toStoredFile(obj minio.ObjectInfo) archive.StoredFile {
	return archive.StoredFile{
		ID:         obj.Key,
		Name:       path.Base(strings.TrimPrefix(obj.Key, c.prefix)),
		Size:       obj.Size,
		UploadedAt: obj.LastModified,
		Checksum:   userMetadata(obj.UserMetadata, "sha256"),
	}
}

// userMetadata looks a key up ignoring the canonicalisation S3 applies to
// metadata headers.
func userMetadata(md minio.StringMap, key string) string {
	for k, v := range md {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), key) {
			return v
		}
	}

	return ""
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}

	return prefix + "/"
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)

	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

var _ archive.Store = (*Client)(nil)
