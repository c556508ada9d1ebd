package backends

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSWiper deletes every object under a prefix in a Cloud Storage bucket.
type GCSWiper struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSWiper creates a GCS wiper. An endpoint selects an emulator and disables authentication.
func NewGCSWiper(ctx context.Context, cfg GCSConfig) (*GCSWiper, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	} else if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSWiper{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Wipe deletes all objects under the prefix. A missing bucket counts as wiped.
func (g *GCSWiper) Wipe(ctx context.Context) error {
	bucket := g.client.Bucket(g.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if errors.Is(err, storage.ErrBucketNotExist) {
			return nil
		}
		if err != nil {
			return &BackendError{Backend: "gcs", Op: "list", Err: err}
		}

		err = bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return &BackendError{Backend: "gcs", Op: "delete " + attrs.Name, Err: err}
		}
	}
}

// Name returns the backend name
func (g *GCSWiper) Name() string {
	return "gcs"
}

// Close closes the client.
func (g *GCSWiper) Close() error {
	return g.client.Close()
}
