// Package objectstore uploads result records to MinIO or any S3 endpoint.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

// Storage writes JSON-lines records into one bucket.
type Storage struct {
	client objectPutter
	mc     *miniogo.Client
	bucket string
	prefix string
}

func NewStorage(cfg Config) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Storage{client: client, mc: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// ObjectKey is where the record of a scan is stored.
func (s *Storage) ObjectKey(scanID string) string {
	return path.Join(s.prefix, scanID+".jsonl")
}

// UploadRecord encodes obs and stores it under the scan's key.
func (s *Storage) UploadRecord(ctx context.Context, scanID string, obs []types.FaceObservation) error {
	var buf bytes.Buffer
	if err := results.Encode(&buf, obs); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectKey(scanID), &buf, int64(buf.Len()), miniogo.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("upload record: %w", err)
	}
	return nil
}

// Recorder uploads the final observations of a run.
type Recorder struct {
	Storage *Storage
	ScanID  string
}

func (r *Recorder) Name() string {
	return fmt.Sprintf("s3://%s/%s", r.Storage.bucket, r.Storage.ObjectKey(r.ScanID))
}

func (r *Recorder) Record(ctx context.Context, obs []types.FaceObservation) error {
	return r.Storage.UploadRecord(ctx, r.ScanID, obs)
}
