package minio

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	minioLib "github.com/minio/minio-go/v7"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	bucket      string
	object      string
	body        string
	size        int64
	contentType string
	err         error
}

func (f *fakeStore) PutObject(_ context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minioLib.PutObjectOptions) (minioLib.UploadInfo, error) {
	if f.err != nil {
		return minioLib.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minioLib.UploadInfo{}, err
	}
	f.bucket, f.object, f.body, f.size, f.contentType = bucketName, objectName, string(body), objectSize, opts.ContentType
	return minioLib.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestGenerateObjectName(t *testing.T) {
	id := uuid.MustParse("6f1c2b7e-8a44-4e55-9a2c-0d4b1f3e2a10")

	assert.Equal(t, id.String()+"/my_photo.png", GenerateObjectName(id, "output/my photo.png"))
	assert.Equal(t, id.String()+"/a.b.jpg", GenerateObjectName(id, "a.b.jpg"))
	assert.Equal(t, id.String()+"/x.png", GenerateObjectName(id, "nested/dir/x(#).png"))
}

func TestUpload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "output/a.png", []byte("pixels"), 0o644))
	store := &fakeStore{}
	u := &Uploader{client: store, fs: fs, bucketName: "processed-images", logger: logger.GetLogger("test")}

	object, err := u.Upload(context.Background(), "output/a.png")
	require.NoError(t, err)

	assert.Equal(t, store.object, object)
	assert.True(t, strings.HasSuffix(object, "/a.png"))
	assert.Equal(t, "processed-images", store.bucket)
	assert.Equal(t, "pixels", store.body)
	assert.Equal(t, int64(6), store.size)
	assert.Equal(t, "image/png", store.contentType)
}

func TestUpload_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	u := &Uploader{client: &fakeStore{}, fs: fs, bucketName: "b", logger: logger.GetLogger("test")}

	_, err := u.Upload(context.Background(), "output/missing.png")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "output/a.png", []byte("pixels"), 0o644))
	u.client = &fakeStore{err: errors.New("bucket gone")}
	_, err = u.Upload(context.Background(), "output/a.png")
	assert.ErrorContains(t, err, "bucket gone")
}
