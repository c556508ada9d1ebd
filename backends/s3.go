package backends

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/nginxlive/livetest"
	"github.com/nginxlive/livetest/internal/logger"
	"github.com/nginxlive/livetest/monitoring"
	"github.com/nginxlive/livetest/resilience"
)

// maxDeleteBatch is the S3 limit on keys per DeleteObjects call.
const maxDeleteBatch = 1000

type s3API interface {
	s3.ListObjectsV2APIClient
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Wiper deletes every object under a prefix.
type S3Wiper struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Wiper creates an S3 wiper
func NewS3Wiper(ctx context.Context, cfg S3Config) (*S3Wiper, error) {
	client, err := newS3Client(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return &S3Wiper{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Wipe deletes all objects under the prefix. A missing bucket counts as wiped.
func (s *S3Wiper) Wipe(ctx context.Context) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isS3Code(err, "NoSuchBucket") {
				logger.Log.Debug("Bucket {bucket} does not exist, nothing to wipe", s.bucket)
				return nil
			}
			return &BackendError{Backend: "s3", Op: "list", Err: err}
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		for start := 0; start < len(objects); start += maxDeleteBatch {
			end := min(start+maxDeleteBatch, len(objects))
			if err := s.deleteBatch(ctx, objects[start:end]); err != nil {
				return err
			}
			deleted += end - start
		}
	}

	logger.Log.Debug("Deleted {count} objects from s3://{bucket}/{prefix}", deleted, s.bucket, s.prefix)
	return nil
}

func (s *S3Wiper) deleteBatch(ctx context.Context, objects []types.ObjectIdentifier) error {
	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return &BackendError{Backend: "s3", Op: "delete", Err: err}
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return &BackendError{
			Backend: "s3",
			Op:      "delete",
			Err:     fmt.Errorf("%d objects not deleted, first %s: %s", len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message)),
		}
	}
	return nil
}

// Name returns the backend name
func (s *S3Wiper) Name() string {
	return "s3"
}

// Close is a no-op.
func (s *S3Wiper) Close() error {
	return nil
}

// S3ArtifactUploader uploads run artifacts such as valgrind logs and the run report.
type S3ArtifactUploader struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	retry    *resilience.RetryPolicy
}

// NewS3ArtifactUploader creates an uploader storing objects under prefix/runID.
func NewS3ArtifactUploader(ctx context.Context, cfg livetest.ArtifactConfig, runID string) (*S3ArtifactUploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("artifact bucket is required")
	}
	client, err := newS3Client(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return &S3ArtifactUploader{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   path.Join(cfg.Prefix, runID),
		retry:    resilience.DefaultRetryPolicy(),
	}, nil
}

// Key returns the object key a local file is uploaded to.
func (u *S3ArtifactUploader) Key(localPath string) string {
	return path.Join(u.prefix, filepath.Base(localPath))
}

// Upload uploads a local file and returns its location.
func (u *S3ArtifactUploader) Upload(ctx context.Context, localPath string) (string, error) {
	var location string
	err := u.retry.Execute(ctx, func(ctx context.Context) error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(u.Key(localPath)),
			Body:   f,
		})
		if err != nil {
			return err
		}
		location = out.Location
		return nil
	})

	monitoring.RecordArtifactUpload(err == nil)
	if err != nil {
		return "", &BackendError{Backend: "s3", Op: "upload " + localPath, Err: err}
	}
	logger.Log.Info("Uploaded {file} to {location}", localPath, location)
	return location, nil
}

func newS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	// Static credentials from the environment, e.g. for MinIO.
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
			configOpts = append(configOpts,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
			)
		}
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if endpoint == "" {
		endpoint = os.Getenv("S3_ENDPOINT")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func isS3Code(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}
