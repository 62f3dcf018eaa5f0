// Package objectstore persists attachment blobs referenced from content
// item metadata. Production uses S3-compatible storage; LocalStore backs
// tests and single-node runs.
package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key         string
	SizeBytes   int64
	ContentType string
}

// ObjectStore reads and writes attachment blobs by key. Keys are
// slash-separated paths, e.g. "org-1/slack/F0123/report.pdf".
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error

	// PresignDownload returns a time-limited URL for direct download.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}
