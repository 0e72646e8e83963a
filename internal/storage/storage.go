// Package storage archives sealed row store segments in object storage.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage is the segment archive. Implementations exist for S3 and
// the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to the local file. A missing object
	// yields ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartConfig holds configuration for multipart uploads.
type MultipartConfig struct {
	// PartSize is the size of each part in bytes. Files up to this size
	// are uploaded in a single request.
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartConfig {
	return MultipartConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}
