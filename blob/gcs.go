package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCS stores attachments in a Google Cloud Storage bucket.
type GCS struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// NewGCSClient builds a storage client. Without a credentials file the
// application default credentials are used.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	if credentialsFile != "" {
		return storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	}
	return storage.NewClient(ctx)
}

func NewGCS(client *storage.Client, bucket, baseURL string) *GCS {
	return &GCS{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *GCS) Upload(ctx context.Context, name string, r io.Reader, contentType string) error {
	// Cancelling the writer's context abandons the upload without creating the
	// object.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return errors.Wrapf(err, "write gs://%s/%s", g.bucket, name)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "finalize gs://%s/%s", g.bucket, name)
	}
	return nil
}

func (g *GCS) PublicURL(name string) string {
	return fmt.Sprintf("%s/%s/%s", g.baseURL, g.bucket, url.PathEscape(name))
}

func (g *GCS) Close() error {
	return g.client.Close()
}
