package archive

import (
	"bytes"
	"context"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Archiver = (*S3Archive)(nil)

// S3Archive uploads reports to an S3-compatible bucket.
type S3Archive struct {
	mc     *minio.Client
	bucket string
	prefix string
}

func NewS3Archive(cfg Config) (*S3Archive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive needs an endpoint and a bucket")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Archive{mc: mc, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archive) Store(ctx context.Context, scanID string, pdf []byte) (string, error) {
	key, err := Key(a.prefix, scanID)
	if err != nil {
		return "", err
	}
	_, err = a.mc.PutObject(ctx, a.bucket, key, bytes.NewReader(pdf), int64(len(pdf)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return "s3://" + a.bucket + "/" + key, nil
}
