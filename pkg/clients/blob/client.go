// Package blob stores dataset payloads in object storage. Two backends exist:
// an embedded Badger store for single-node deployments and tests, and Google
// Cloud Storage.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("blob: object not found")

// Client defines the object storage operations the dataset store needs.
// Implementations can be swapped for testing or a different provider.
type Client interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
