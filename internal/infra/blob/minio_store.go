package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"content-batch/internal/config"
	"content-batch/internal/domain"
	"content-batch/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*MinioStore)(nil)

const refScheme = "s3://"

// MinioStore keeps artifacts in an S3-compatible bucket. References have the
// form s3://<bucket>/<key>.
type MinioStore struct {
	client *minio.Client
	bucket string
	log    *zerolog.Logger
}

// NewMinioStore connects and creates the bucket when it does not exist yet.
func NewMinioStore(ctx context.Context, cfg config.StorageConfig, logger *zerolog.Logger) (*MinioStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required: %w", domain.ErrInvalidArgument)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	l := logger.With().Str("component", "blob").Str("bucket", bucket).Logger()
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket: %w", err)
		}
		l.Info().Msg("bucket created")
	}
	return &MinioStore{client: client, bucket: bucket, log: &l}, nil
}

func (s *MinioStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", domain.ErrInvalidArgument
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int64("size", info.Size).Msg("object stored")
	return refScheme + s.bucket + "/" + key, nil
}

func (s *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, key := s.parseRef(ref)
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return b, nil
}

// parseRef accepts s3://bucket/key or a bare key in the configured bucket.
func (s *MinioStore) parseRef(ref string) (string, string) {
	return splitRef(ref, s.bucket)
}

func splitRef(ref, defaultBucket string) (string, string) {
	if !strings.HasPrefix(ref, refScheme) {
		return defaultBucket, strings.TrimLeft(ref, "/")
	}
	rest := strings.TrimPrefix(ref, refScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok {
		return defaultBucket, rest
	}
	return bucket, key
}
