package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type ObjectInfo struct {
	ETag string
	Size int64
}

type Minio struct {
	client *minio.Client
}

func NewMinio(cfg MinioConfig) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Minio{client: client}, nil
}

func (m *Minio) StatObject(ctx context.Context, bucket, object string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		metrics.MinioOperationsTotal.WithLabelValues("stat", "error").Inc()
		return ObjectInfo{}, fmt.Errorf("failed to stat object %s/%s: %w", bucket, object, err)
	}
	metrics.MinioOperationsTotal.WithLabelValues("stat", "success").Inc()
	return ObjectInfo{ETag: info.ETag, Size: info.Size}, nil
}

func (m *Minio) GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		metrics.MinioOperationsTotal.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("failed to get object %s/%s: %w", bucket, object, err)
	}
	metrics.MinioOperationsTotal.WithLabelValues("get", "success").Inc()
	return obj, nil
}
