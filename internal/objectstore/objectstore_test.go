package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/andresmejia3/facecensus/internal/results"
	"github.com/andresmejia3/facecensus/internal/types"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	bucket, key string
	body        []byte
	size        int64
	opts        miniogo.PutObjectOptions
	err         error
}

func (f *fakePutter) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error) {
	if f.err != nil {
		return miniogo.UploadInfo{}, f.err
	}
	f.bucket, f.key, f.size, f.opts = bucket, key, size, opts
	body, err := io.ReadAll(r)
	f.body = body
	return miniogo.UploadInfo{Bucket: bucket, Key: key, Size: size}, err
}

func TestRecorderUploadsRecord(t *testing.T) {
	fake := &fakePutter{}
	s := &Storage{client: fake, bucket: "results", prefix: "scans"}
	rec := &Recorder{Storage: s, ScanID: "abc"}

	ts := 2.0
	obs := []types.FaceObservation{
		{BBox: types.Box(1, 2, 3, 4), Confidence: 0.5, Age: 30, Gender: types.Male, Time: &ts},
	}
	require.NoError(t, rec.Record(context.Background(), obs))

	assert.Equal(t, "results", fake.bucket)
	assert.Equal(t, "scans/abc.jsonl", fake.key)
	assert.Equal(t, int64(len(fake.body)), fake.size)
	assert.Equal(t, "application/x-ndjson", fake.opts.ContentType)
	assert.Equal(t, "s3://results/scans/abc.jsonl", rec.Name())

	got, err := results.Decode(bytes.NewReader(fake.body))
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestUploadError(t *testing.T) {
	s := &Storage{client: &fakePutter{err: errors.New("access denied")}, bucket: "results"}
	err := s.UploadRecord(context.Background(), "abc", nil)
	assert.ErrorContains(t, err, "access denied")
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	s := &Storage{bucket: "results"}
	assert.Equal(t, "abc.jsonl", s.ObjectKey("abc"))
}
