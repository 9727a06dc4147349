package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSClient keeps objects in a Google Cloud Storage bucket.
type GCSClient struct {
	client *storage.Client
	bucket string
}

// NewGCSClient connects to bucket. When credentialsFile is empty the
// application default credentials are used.
func NewGCSClient(ctx context.Context, bucket, credentialsFile string) (*GCSClient, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs: credentials file %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCSClient{client: client, bucket: bucket}, nil
}

func (c *GCSClient) object(key string) *storage.ObjectHandle {
	return c.client.Bucket(c.bucket).Object(key)
}

func (c *GCSClient) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := c.object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write gs://%s/%s: %w", c.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close writer for gs://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

func (c *GCSClient) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := c.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: open gs://%s/%s: %w", c.bucket, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: read gs://%s/%s: %w", c.bucket, key, err)
	}
	return data, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *GCSClient) Delete(ctx context.Context, key string) error {
	err := c.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete gs://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

func (c *GCSClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.object(key).Attrs(ctx)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("gcs: stat gs://%s/%s: %w", c.bucket, key, err)
	default:
		return true, nil
	}
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}
