package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/quickdrop-io/quickdrop/logging"
)

// ObjectStorage is the signed-URL collaborator. Uploads and downloads go
// straight between the client and the bucket; this service only mints URLs
// and probes object metadata.
type ObjectStorage interface {
	GenerateUploadUrl(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)
	GenerateDownloadUrl(ctx context.Context, key string, ttl time.Duration) (string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	ContentType(ctx context.Context, key string) (string, error)
}

type S3ObjectStorageImpl struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string

	logger logging.Logger
}

func NewS3ObjectStorageImpl(client *s3.Client, bucketName string, l logging.Logger) *S3ObjectStorageImpl {
	return &S3ObjectStorageImpl{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucketName: bucketName,
		logger:     l,
	}
}

func (s *S3ObjectStorageImpl) GenerateUploadUrl(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	presigned, err := s.presigner.PresignPutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:      aws.String(s.bucketName),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		},
		s3.WithPresignExpires(ttl),
	)
	if err != nil {
		s.logger.Error("failed to presign upload url", "key", key, "error", err)
		return "", err
	}

	return presigned.URL, nil
}

func (s *S3ObjectStorageImpl) GenerateDownloadUrl(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigned, err := s.presigner.PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucketName),
			Key:    aws.String(key),
		},
		s3.WithPresignExpires(ttl),
	)
	if err != nil {
		s.logger.Error("failed to presign download url", "key", key, "error", err)
		return "", err
	}

	return presigned.URL, nil
}

func (s *S3ObjectStorageImpl) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContentType reads the stored content type of a finalized object. Bucket
// notifications do not carry it, so the completion bridge asks here.
func (s *S3ObjectStorageImpl) ContentType(ctx context.Context, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", err
	}
	if out.ContentType == nil {
		return "application/octet-stream", nil
	}
	return *out.ContentType, nil
}
