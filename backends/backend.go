// Package backends wipes the persisted channel store of the server under test,
// wherever that store lives, and uploads run artifacts.
package backends

import (
	"context"
	"fmt"

	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
)

// Wiper removes everything the server persisted for its channels.
// Wiping a store that is already empty or missing succeeds.
type Wiper interface {
	Wipe(ctx context.Context) error
	Name() string
	Close() error
}

// Config defines backend configuration
type Config interface {
	Type() string
	Validate() error
}

// FilesystemConfig configures a local store directory.
type FilesystemConfig struct {
	Path string
}

// Type returns the backend type identifier.
func (c FilesystemConfig) Type() string {
	return "filesystem"
}

// Validate validates the filesystem configuration.
func (c FilesystemConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	if c.Path == "/" {
		return fmt.Errorf("refusing to wipe the filesystem root")
	}
	return nil
}

// S3Config configures a store kept in an S3-compatible bucket.
type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// Type returns the backend type identifier.
func (c S3Config) Type() string {
	return "s3"
}

// Validate validates the S3 configuration.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("region is required")
	}
	return nil
}

// AzureConfig configures a store kept in an Azure Blob Storage container.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	Prefix      string
	Endpoint    string
}

// Type returns the backend type identifier.
func (c AzureConfig) Type() string {
	return "azure"
}

// Validate validates the Azure configuration.
func (c AzureConfig) Validate() error {
	if c.Container == "" {
		return fmt.Errorf("container is required")
	}
	if c.AccountName == "" || c.AccountKey == "" {
		return fmt.Errorf("account name and key are required")
	}
	return nil
}

// GCSConfig configures a store kept in a Google Cloud Storage bucket.
type GCSConfig struct {
	Bucket          string
	ProjectID       string
	Prefix          string
	CredentialsFile string
	Endpoint        string
}

// Type returns the backend type identifier.
func (c GCSConfig) Type() string {
	return "gcs"
}

// Validate validates the GCS configuration.
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.ProjectID == "" {
		return fmt.Errorf("project ID is required")
	}
	return nil
}

// FromStore maps the harness store settings to a backend configuration.
func FromStore(store livetest.StoreConfig) (Config, error) {
	switch store.Type {
	case "", "filesystem":
		return FilesystemConfig{Path: store.Path}, nil
	case "s3":
		return S3Config{Bucket: store.Bucket, Region: store.Region, Prefix: store.Prefix, Endpoint: store.Endpoint}, nil
	case "gcs":
		return GCSConfig{
			Bucket:          store.Bucket,
			ProjectID:       store.ProjectID,
			Prefix:          store.Prefix,
			CredentialsFile: store.CredentialsFile,
			Endpoint:        store.Endpoint,
		}, nil
	case "azure":
		return AzureConfig{
			AccountName: store.AccountName,
			AccountKey:  store.AccountKey,
			Container:   store.Container,
			Prefix:      store.Prefix,
			Endpoint:    store.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", store.Type)
	}
}

// Create creates a wiper from configuration
func Create(ctx context.Context, config Config) (Wiper, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s configuration: %w", config.Type(), err)
	}

	var (
		w   Wiper
		err error
	)
	switch cfg := config.(type) {
	case FilesystemConfig:
		w = NewFilesystemWiper(cfg)
	case S3Config:
		w, err = NewS3Wiper(ctx, cfg)
	case AzureConfig:
		w, err = NewAzureWiper(cfg)
	case GCSConfig:
		w, err = NewGCSWiper(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", config.Type())
	}
	if err != nil {
		return nil, err
	}
	return &recordingWiper{Wiper: w}, nil
}

// recordingWiper logs and counts every wipe.
type recordingWiper struct {
	Wiper
}

func (r *recordingWiper) Wipe(ctx context.Context) error {
	err := r.Wiper.Wipe(ctx)
	monitoring.RecordStoreWipe(r.Name(), err == nil)
	if err != nil {
		logger.Log.Warn("Store wipe on {backend} failed: {error}", r.Name(), err)
		return err
	}
	logger.Log.Debug("Store wiped on {backend}", r.Name())
	return nil
}

// BackendError represents a backend-specific error
type BackendError struct {
	Err     error
	Backend string
	Op      string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
