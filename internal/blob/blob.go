// Package blob stores document bytes and hands out time-limited read URLs.
package blob

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = eris.New("blob: object not found")

// Store is the object storage used for original and converted documents.
// PutObject must replace an object atomically: readers see either the old
// bytes or the new bytes, never a partial write.
type Store interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
	PresignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}
