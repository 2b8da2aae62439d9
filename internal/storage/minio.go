package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultBucket = "people-counter-artifacts"

// MinIOConfig configures artifact uploads. An empty Endpoint disables them.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// Prefix is prepended to every object name
	Prefix string `yaml:"prefix"`
}

// Enabled reports whether uploads are configured.
func (c MinIOConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// MinIOStore copies finished artifacts to an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string

	mu       sync.Mutex
	bucketOK bool
}

// NewMinIOStore creates the client. The bucket is created on first upload.
func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage: minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: minio client: %w", err)
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}
	return &MinIOStore{client: client, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Bucket returns the target bucket name.
func (s *MinIOStore) Bucket() string { return s.bucket }

func (s *MinIOStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bucketOK {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("storage: create bucket %s: %w", s.bucket, err)
		}
		slog.Info("storage: bucket created", "bucket", s.bucket)
	}
	s.bucketOK = true
	return nil
}

// ObjectName is the key of a job's artifact: [prefix/]{job_id}/{filename}.
func (s *MinIOStore) ObjectName(jobID, localPath string) string {
	return path.Join(s.prefix, jobID, filepath.Base(localPath))
}

// Upload copies the file at localPath and returns its object name.
func (s *MinIOStore) Upload(ctx context.Context, jobID, localPath, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	object := s.ObjectName(jobID, localPath)
	info, err := s.client.FPutObject(ctx, s.bucket, object, localPath, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", object, err)
	}
	slog.Debug("storage: artifact uploaded", "bucket", s.bucket, "object", object, "size", info.Size)
	return object, nil
}
