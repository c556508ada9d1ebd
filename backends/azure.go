package backends

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureWiper deletes every blob under a prefix in a container.
type AzureWiper struct {
	container azblob.ContainerURL
	prefix    string
}

// NewAzureWiper creates an Azure wiper. Endpoint, when set, replaces the public
// account URL, e.g. http://127.0.0.1:10000/devstoreaccount1 for Azurite.
func NewAzureWiper(cfg AzureConfig) (*AzureWiper, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid Azure credentials: %w", err)
	}

	base := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	if cfg.Endpoint != "" {
		base = strings.TrimRight(cfg.Endpoint, "/")
	}
	u, err := url.Parse(base + "/" + cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("invalid Azure container URL: %w", err)
	}

	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	return &AzureWiper{
		container: azblob.NewContainerURL(*u, pipeline),
		prefix:    cfg.Prefix,
	}, nil
}

// Wipe deletes all blobs under the prefix, snapshots included. A missing container counts as wiped.
func (a *AzureWiper) Wipe(ctx context.Context) error {
	for marker := (azblob.Marker{}); marker.NotDone(); {
		list, err := a.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: a.prefix})
		if err != nil {
			if isAzureCode(err, azblob.ServiceCodeContainerNotFound) {
				return nil
			}
			return &BackendError{Backend: "azure", Op: "list", Err: err}
		}
		marker = list.NextMarker

		for _, item := range list.Segment.BlobItems {
			blob := a.container.NewBlobURL(item.Name)
			_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
			if err != nil && !isAzureCode(err, azblob.ServiceCodeBlobNotFound) {
				return &BackendError{Backend: "azure", Op: "delete " + item.Name, Err: err}
			}
		}
	}
	return nil
}

// Name returns the backend name
func (a *AzureWiper) Name() string {
	return "azure"
}

// Close is a no-op.
func (a *AzureWiper) Close() error {
	return nil
}

func isAzureCode(err error, code azblob.ServiceCodeType) bool {
	var stgErr azblob.StorageError
	return errors.As(err, &stgErr) && stgErr.ServiceCode() == code
}
