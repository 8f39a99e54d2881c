// Package blob places chat attachments in an object store and hands back the
// public URL that goes into a message.
package blob

import (
	"context"
	"io"
)

// Store is an object store with public read URLs.
type Store interface {
	Upload(ctx context.Context, name string, r io.Reader, contentType string) error
	PublicURL(name string) string
}
