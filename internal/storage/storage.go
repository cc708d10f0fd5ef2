// Package storage provides staging space for intermediate pipeline files
// and optional publication of the final watermarked file to object
// storage.
package storage

import (
	"context"
	"errors"
)

// ErrPublishNotConfigured is returned when publication is requested but
// no object storage backend is configured.
var ErrPublishNotConfigured = errors.New("object storage is not configured")

// Storage is the port the job service publishes through.
type Storage interface {
	// TempDir returns the directory staged pipeline files live in.
	TempDir() string

	// Publish uploads the local file at path under key and returns its
	// public URL. Returns ErrPublishNotConfigured when no backend exists.
	Publish(ctx context.Context, key, path string) (url string, err error)
}
