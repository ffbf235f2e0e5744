package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v3"

	"github.com/dbackup/dbackup/internal/domain"
)

const s3UploadRetries = 3

// S3Adapter talks to AWS S3 or any S3-compatible endpoint. The client
// is built per call from the AdapterConfig's settings, so one adapter
// instance serves every configured bucket.
type S3Adapter struct{}

func NewS3() *S3Adapter {
	return &S3Adapter{}
}

func (s *S3Adapter) ID() string { return "s3-aws" }

func (s *S3Adapter) Validate(cfg domain.Settings) error {
	for _, key := range []string{"region", "bucket", "access_key", "secret_key"} {
		if cfg[key] == "" {
			return domain.NewConfigurationError("s3-aws: %s is required", key)
		}
	}
	return nil
}

func (s *S3Adapter) client(ctx context.Context, cfg domain.Settings) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg["region"]),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg["access_key"], cfg["secret_key"], ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := cfg["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3Adapter) key(cfg domain.Settings, remotePath string) string {
	return path.Join(cfg["prefix"], remotePath)
}

func (s *S3Adapter) Upload(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	client, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}
	uploader := s3manager.NewUploader(client)
	key := s.key(cfg, remotePath)

	// Transient network failures retry with exponential backoff.
	operation := func() error {
		file, err := os.Open(localPath)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to open file: %w", err))
		}
		defer file.Close()

		_, err = uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(cfg["bucket"]),
			Key:    aws.String(key),
			Body:   file,
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s3UploadRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *S3Adapter) Download(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	client, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg["bucket"]),
		Key:    aws.String(s.key(cfg, remotePath)),
	})
	if err != nil {
		return fmt.Errorf("failed to download from S3: %w", err)
	}
	defer resp.Body.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return nil
}

func (s *S3Adapter) Read(ctx context.Context, cfg domain.Settings, remotePath string) ([]byte, error) {
	client, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg["bucket"]),
		Key:    aws.String(s.key(cfg, remotePath)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from S3: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (s *S3Adapter) List(ctx context.Context, cfg domain.Settings, prefix string) ([]domain.Entry, error) {
	client, err := s.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fullPrefix := s.key(cfg, prefix)
	var entries []domain.Entry

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg["bucket"]),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), cfg["prefix"])
			name = strings.TrimPrefix(name, "/")
			if name == "" {
				continue
			}
			entries = append(entries, domain.Entry{
				Name:         name,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return entries, nil
}

func (s *S3Adapter) Delete(ctx context.Context, cfg domain.Settings, remotePath string) error {
	client, err := s.client(ctx, cfg)
	if err != nil {
		return err
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg["bucket"]),
		Key:    aws.String(s.key(cfg, remotePath)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}
