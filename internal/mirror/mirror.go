// Package mirror copies processed output files to object storage.
package mirror

import "context"

// Uploader defines the interface for mirroring output files
type Uploader interface {
	// Upload copies the local file at path and returns the object name.
	Upload(ctx context.Context, path string) (string, error)

	// Close releases the client connection
	Close() error
}

// Nop mirrors nothing. It is used when object storage is disabled.
type Nop struct{}

func (Nop) Upload(context.Context, string) (string, error) { return "", nil }
func (Nop) Close() error                                   { return nil }
