// Package s3 implements the storage backend against an S3-compatible
// object store using the AWS SDK.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/driftfs/driftfs/internal/storage"
)

// Backend implements storage.Backend against S3.
type Backend struct {
	client *awss3.Client
	bucket string
	root   string
	logger *slog.Logger
}

var _ storage.Backend = (*Backend)(nil)

// New creates an S3 backend from the configuration. Construction
// failures (missing bucket, unloadable SDK config) are fatal to
// startup; the caller does not retry.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required (%s)", cfg)
	}

	logger.Info("creating S3 backend", "config", cfg.String())

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		root:   normalizeRoot(cfg.Root),
		logger: logger,
	}, nil
}

// GetObject retrieves an object or a byte range of it.
func (b *Backend) GetObject(ctx context.Context, key string, offset, size int64) ([]byte, error) {
	input := &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.root + key),
	}
	if offset > 0 || size > 0 {
		if size > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}

	result, err := b.client.GetObject(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "GetObject", key)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object body for %q: %w", key, err)
	}
	return data, nil
}

// PutObject stores an object, replacing any existing content.
func (b *Backend) PutObject(ctx context.Context, key string, data []byte) error {
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.root + key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return b.translateError(err, "PutObject", key)
	}
	return nil
}

// DeleteObject removes an object. S3 deletes are idempotent, so a
// missing key succeeds.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	input := &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.root + key),
	}

	if _, err := b.client.DeleteObject(ctx, input); err != nil {
		return b.translateError(err, "DeleteObject", key)
	}
	return nil
}

// HeadObject returns metadata for a single key.
func (b *Backend) HeadObject(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	input := &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.root + key),
	}

	result, err := b.client.HeadObject(ctx, input)
	if err != nil {
		return nil, b.translateError(err, "HeadObject", key)
	}

	info := &storage.ObjectInfo{
		Key:  key,
		Size: aws.ToInt64(result.ContentLength),
		ETag: strings.Trim(aws.ToString(result.ETag), `"`),
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// List enumerates objects under prefix with "/" as delimiter.
func (b *Backend) List(ctx context.Context, prefix string) (*storage.Listing, error) {
	listing := &storage.Listing{}

	paginator := awss3.NewListObjectsV2Paginator(b.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(b.root + prefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.translateError(err, "ListObjectsV2", prefix)
		}

		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), b.root)
			info := storage.ObjectInfo{
				Key:  key,
				Size: aws.ToInt64(obj.Size),
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			listing.Objects = append(listing.Objects, info)
		}
		for _, cp := range page.CommonPrefixes {
			listing.CommonPrefixes = append(listing.CommonPrefixes,
				strings.TrimPrefix(aws.ToString(cp.Prefix), b.root))
		}
	}

	return listing, nil
}

// HealthCheck verifies the bucket is reachable with the configured
// credentials.
func (b *Backend) HealthCheck(ctx context.Context) error {
	input := &awss3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if _, err := b.client.HeadBucket(ctx, input); err != nil {
		return fmt.Errorf("S3 health check failed for bucket %q: %w", b.bucket, err)
	}
	return nil
}

// translateError maps SDK errors to backend errors, folding the
// various not-found shapes into storage.ErrNotFound.
func (b *Backend) translateError(err error, operation, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %q: %w", operation, key, storage.ErrNotFound)
	}
	return fmt.Errorf("%s %q: %w", operation, key, err)
}

// normalizeRoot ensures a non-empty root ends with exactly one slash
// and never starts with one, matching S3 key conventions.
func normalizeRoot(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}
