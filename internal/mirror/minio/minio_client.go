package minio

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	minioLib "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/mirror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// objectStore is the part of *minio.Client the uploader uses.
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minioLib.PutObjectOptions) (minioLib.UploadInfo, error)
}

// Uploader mirrors output files into a MinIO bucket.
type Uploader struct {
	client     objectStore
	fs         afero.Fs
	bucketName string
	logger     zerolog.Logger
}

var _ mirror.Uploader = (*Uploader)(nil)

func NewUploader(ctx context.Context, cfg *config.MinIOConfig, fs afero.Fs) (*Uploader, error) {
	log := logger.GetLogger("minio-uploader")

	client, err := minioLib.New(cfg.Endpoint, &minioLib.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.SSL,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking if bucket exists: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minioLib.MakeBucketOptions{Region: cfg.Location})
		if err != nil {
			return nil, fmt.Errorf("error creating bucket: %w", err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket created")
	} else {
		log.Info().Str("bucket", cfg.Bucket).Msg("Bucket already exists")
	}

	return &Uploader{
		client:     client,
		fs:         fs,
		bucketName: cfg.Bucket,
		logger:     log,
	}, nil
}

// Upload copies the file at localPath into the bucket
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := u.fs.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("error opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", localPath, err)
	}

	objectName := GenerateObjectName(uuid.New(), localPath)
	_, err = u.client.PutObject(ctx, u.bucketName, objectName, f, info.Size(),
		minioLib.PutObjectOptions{ContentType: contentType(localPath)})
	if err != nil {
		return "", fmt.Errorf("error uploading image: %w", err)
	}

	u.logger.Debug().
		Str("object", objectName).
		Str("path", localPath).
		Int64("size", info.Size()).
		Msg("Image uploaded successfully")
	return objectName, nil
}

// Close closes the MinIO client connection
func (u *Uploader) Close() error {
	return nil
}

// GenerateObjectName generates a unique object name
func GenerateObjectName(id uuid.UUID, fileName string) string {
	fileName = filepath.ToSlash(fileName)
	ext := path.Ext(fileName)
	base := strings.TrimSuffix(path.Base(fileName), ext)
	return fmt.Sprintf("%s/%s%s", id.String(), sanitizeFileName(base), ext)
}

func contentType(fileName string) string {
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(fileName))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// sanitizeFileName sanitizes a file name for storage
func sanitizeFileName(fileName string) string {
	fileName = strings.ReplaceAll(fileName, " ", "_")

	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			return r
		}
		return -1
	}, fileName)
}
