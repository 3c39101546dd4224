package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 stores artifacts in an S3-compatible bucket via the MinIO client.
// The original filename rides along as object metadata.
type S3 struct {
	client *minio.Client
	bucket string
}

var _ Registry = (*S3)(nil)

// S3Config holds the connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

const metaFilename = "X-Amz-Meta-Filename"

// NewS3 connects to the endpoint and ensures the bucket exists.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("artifact: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("artifact: create bucket: %w", err)
		}
	}
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) Put(ctx context.Context, name string, data []byte) (string, error) {
	handle := uuid.New().String()
	_, err := s.client.PutObject(ctx, s.bucket, handle, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"filename": sanitizeFilename(name)},
	})
	if err != nil {
		return "", fmt.Errorf("artifact: upload: %w", err)
	}
	return handle, nil
}

func (s *S3) Open(ctx context.Context, handle string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("artifact: get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		var respErr minio.ErrorResponse
		if errors.As(err, &respErr) && respErr.Code == "NoSuchKey" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("artifact: read object: %w", err)
	}

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", err
	}
	name := stat.Metadata.Get(metaFilename)
	if name == "" {
		name = handle
	}
	return data, name, nil
}
