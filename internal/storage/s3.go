// Package storage provides the durable-storage and notification
// collaborators: an S3 object store for the ledger tables, an SNS publisher
// for SMS summaries, and local/no-op counterparts for backtests.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"rotor/internal/domain"
)

// Compile-time interface check.
var _ domain.ObjectStore = (*S3Store)(nil)

// S3Store persists objects in one bucket.
type S3Store struct {
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
	log        zerolog.Logger
}

// NewS3Store builds a store using the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket string, logger zerolog.Logger) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		bucket:     bucket,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		log:        logger.With().Str("component", "s3").Logger(),
	}, nil
}

// Upload writes an object under key.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("object uploaded")
	return nil
}

// Download reads an object, mapping a missing key to domain.ErrNotFound.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("download s3://%s/%s: %w", s.bucket, key, err)
	}
	return buf.Bytes(), nil
}
