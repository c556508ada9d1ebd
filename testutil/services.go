// Package testutil provides assertion and request helpers for scenarios, and
// service checks for tests that need real storage emulators.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ServiceChecker checks if storage emulators are available
type ServiceChecker struct {
	client *http.Client
}

// NewServiceChecker creates a new service checker
func NewServiceChecker() *ServiceChecker {
	return &ServiceChecker{
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// MinIOEndpoint returns the MinIO endpoint from MINIO_ENDPOINT or the local default.
func MinIOEndpoint() string {
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:9000"
}

// IsMinIOAvailable checks if MinIO is running
func (sc *ServiceChecker) IsMinIOAvailable() bool {
	return sc.get(MinIOEndpoint()+"/minio/health/live", http.StatusOK)
}

// IsAzuriteAvailable checks if Azurite is running
func (sc *ServiceChecker) IsAzuriteAvailable() bool {
	// Azurite answers 403 to unauthenticated listing.
	return sc.get("http://localhost:10000/devstoreaccount1?comp=list", http.StatusForbidden, http.StatusOK)
}

// IsFakeGCSAvailable checks if Fake GCS is running
func (sc *ServiceChecker) IsFakeGCSAvailable() bool {
	return sc.get("http://localhost:4443/storage/v1/b", http.StatusOK, http.StatusUnauthorized)
}

func (sc *ServiceChecker) get(url string, accepted ...int) bool {
	resp, err := sc.client.Get(url)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	for _, code := range accepted {
		if resp.StatusCode == code {
			return true
		}
	}
	return false
}

// MinIOCredentials returns the MinIO access and secret keys.
func MinIOCredentials() (string, string) {
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	if accessKey == "" {
		accessKey = "minioadmin"
	}
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if secretKey == "" {
		secretKey = "minioadmin"
	}
	return accessKey, secretKey
}

// GetMinIOClient returns an S3 client for MinIO
func GetMinIOClient() *s3.Client {
	accessKey, secretKey := MinIOCredentials()
	return s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(MinIOEndpoint()),
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		UsePathStyle: true,
	})
}

// CreateTestBucket creates a bucket, tolerating one that already exists.
func CreateTestBucket(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil && !isAlreadyExistsError(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// WaitForService waits for a service to be available
func WaitForService(name string, checkFunc func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if checkFunc() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s service not available after %v", name, timeout)
		case <-ticker.C:
		}
	}
}

func isAlreadyExistsError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "BucketAlreadyExists" || apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

// Well-known Azurite development account.
const (
	AzuriteAccount  = "devstoreaccount1"
	AzuriteKey      = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	AzuriteEndpoint = "http://127.0.0.1:10000/devstoreaccount1"
)
