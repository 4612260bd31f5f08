// Package storage moves finished artifacts in and out of object storage and
// packages them for delivery.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadPrefix namespaces artifact uploads inside the delivery bucket.
const uploadPrefix = "data/"

// s3API is the slice of the S3 client the store uses. Tests swap in fakes.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store is an S3-backed artifact store for one bucket.
type Store struct {
	api    s3API
	bucket string
	logger *slog.Logger
}

// New builds a Store using the default AWS credential chain.
func New(ctx context.Context, bucket, region string, logger *slog.Logger) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{api: s3.NewFromConfig(cfg), bucket: bucket, logger: logger}, nil
}

// NewAnonymous builds a Store with anonymous credentials for public read-only
// buckets such as the NOAA satellite archives.
func NewAnonymous(ctx context.Context, bucket, region string, logger *slog.Logger) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Credentials = aws.AnonymousCredentials{}
	})
	return &Store{api: client, bucket: bucket, logger: logger}, nil
}

func newStoreWithAPI(api s3API, bucket string, logger *slog.Logger) *Store {
	return &Store{api: api, bucket: bucket, logger: logger}
}

// Upload puts the local file at localPath into the bucket under the data
// prefix, keyed by its base name.
func (s *Store) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	key := uploadPrefix + path.Base(localPath)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}

	s.logger.Info("uploaded artifact", "bucket", s.bucket, "key", key)
	return key, nil
}

// ListKeys returns every object key under prefix, following pagination.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// DownloadTo fetches key into dest. The destination only ever appears as a
// complete file; the body streams to dest+".tmp" first.
func (s *Store) DownloadTo(ctx context.Context, key, dest string) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp, dest)
}
