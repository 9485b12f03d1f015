package filestore

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clover2di/tochkavnimanie-bot/pkg/logx"
)

// S3 stores files as objects in one bucket. References have the form
// "s3://bucket/@ns/file".
type S3 struct {
	client *minio.Client
	bucket string
	region string
	log    logx.Logger
	now    func() time.Time
	exists func(ctx context.Context, key string) (bool, error)
}

func NewS3(ctx context.Context, cfg S3Config, log logx.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	s := &S3{client: client, bucket: cfg.Bucket, region: cfg.Region, log: log.With(logx.String("comp", "filestore.s3")), now: time.Now}
	s.exists = s.statObject

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	s.log.Info("bucket created", logx.String("bucket", s.bucket))
	return nil
}

func (s *S3) Save(ctx context.Context, namespace, name string, data []byte) (string, error) {
	key, err := freeObjectName(ctx, namespace, name, s.now(), s.exists)
	if err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3) statObject(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// freeObjectName returns the first collision-free key for name. Objects
// have no exclusive create, so a stat stands in for O_EXCL.
func freeObjectName(ctx context.Context, namespace, name string, now time.Time, exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxCollisions; attempt++ {
		key := objectName(namespace, name, now, attempt)
		taken, err := exists(ctx, key)
		if err != nil {
			return "", err
		}
		if !taken {
			return key, nil
		}
	}
	return "", fmt.Errorf("save %s: too many name collisions", name)
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
