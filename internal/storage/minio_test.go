package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idverify/internal/config"
)

type fakeObjectAPI struct {
	statErr   error
	putInfo   minio.UploadInfo
	putErr    error
	putKey    string
	removeErr error
	removed   []string
}

func (f *fakeObjectAPI) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.putKey = key
	_, _ = io.Copy(io.Discard, r)
	return f.putInfo, f.putErr
}

func (f *fakeObjectAPI) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, minio.ErrorResponse{Code: "NoSuchKey"}
}

func (f *fakeObjectAPI) StatObject(context.Context, string, string, minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return minio.ObjectInfo{}, f.statErr
}

func (f *fakeObjectAPI) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, key)
	return f.removeErr
}

func TestMinioStorage_Exists(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		statErr    error
		wantExists bool
		wantErr    bool
	}{
		{name: "present", wantExists: true},
		{name: "absent", statErr: minio.ErrorResponse{Code: "NoSuchKey"}},
		{name: "unknown", statErr: minio.ErrorResponse{Code: "AccessDenied"}, wantErr: true},
		{name: "transport failure", statErr: errors.New("dial tcp: timeout"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &minioStorage{client: &fakeObjectAPI{statErr: tt.statErr}, bucket: "b"}
			ok, err := s.Exists(ctx, "document/x.jpg")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantExists, ok)
		})
	}
}

func TestMinioStorage_GetNotFound(t *testing.T) {
	s := &minioStorage{client: &fakeObjectAPI{}, bucket: "b"}
	_, _, err := s.Get(context.Background(), "document/x.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestMinioStorage_PutAndDelete(t *testing.T) {
	fake := &fakeObjectAPI{putInfo: minio.UploadInfo{Size: 5, ETag: "etag"}}
	s := &minioStorage{client: fake, bucket: "b"}

	info, err := s.Put(context.Background(), "selfie/x.jpg", strings.NewReader("hello"), PutObjectOptions{Size: 5, ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "selfie/x.jpg", info.Key)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)

	require.NoError(t, s.Delete(context.Background(), "selfie/x.jpg"))
	assert.Equal(t, []string{"selfie/x.jpg"}, fake.removed)
}

func TestExpiryRules(t *testing.T) {
	cfg := ExpiryRules(365)
	require.Len(t, cfg.Rules, 4)

	prefixes := make([]string, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		prefixes = append(prefixes, r.RuleFilter.Prefix)
		assert.Equal(t, "Enabled", r.Status)
		assert.EqualValues(t, 365, r.Expiration.Days)
	}
	assert.ElementsMatch(t, []string{"document/", "resized_document/", "selfie/", "resized_selfie/"}, prefixes)
}

func TestNewMinIO_Validation(t *testing.T) {
	_, err := NewMinIO(context.Background(), config.MinIOConfig{}, 0)
	assert.EqualError(t, err, "minio endpoint is required")

	_, err = NewMinIO(context.Background(), config.MinIOConfig{Endpoint: "localhost:9000"}, 0)
	assert.EqualError(t, err, "minio credentials are required")

	_, err = NewMinIO(context.Background(), config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, 0)
	assert.EqualError(t, err, "minio bucket is required")
}

func TestReadAll(t *testing.T) {
	s := &minioStorage{client: &fakeObjectAPI{}, bucket: "b"}
	_, _, err := ReadAll(context.Background(), s, "document/x.jpg", 10)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
