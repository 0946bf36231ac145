package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	Register("s3", func() Backend { return &S3Backend{} })
}

// S3Backend stores files in an S3-compatible object store and serves
// downloads through presigned GET URLs.
type S3Backend struct {
	client      *minio.Client
	bucket      string
	maxFileSize int64
}

func (b *S3Backend) Type() string { return "s3" }

func (b *S3Backend) Capabilities() Capabilities {
	return Capabilities{
		CanUpload:             true,
		CanDelete:             true,
		CanList:               true,
		CanGenerateSignedURLs: true,
		MaxFileSize:           b.maxFileSize,
	}
}

func (b *S3Backend) Configure(config map[string]any) error {
	endpoint, err := configString(config, "endpoint")
	if err != nil {
		return err
	}
	accessKey, err := configString(config, "access_key")
	if err != nil {
		return err
	}
	secretKey, err := configString(config, "secret_key")
	if err != nil {
		return err
	}
	bucket, err := configString(config, "bucket")
	if err != nil {
		return err
	}

	region, _ := config["region"].(string)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: configBool(config, "use_ssl"),
		Region: region,
	})
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}

	b.client = client
	b.bucket = bucket
	b.maxFileSize = configInt64(config, "max_file_size")
	return nil
}

func (b *S3Backend) ReceiveUpload(ctx context.Context, objectPath string, content []byte, contentType string) (*FileMetadata, error) {
	_, err := b.client.PutObject(ctx, b.bucket, objectPath,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	sum := sha256.Sum256(content)
	return &FileMetadata{
		Path:        objectPath,
		Filename:    path.Base(objectPath),
		ContentType: contentType,
		ContentHash: "sha256:" + hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
	}, nil
}

func (b *S3Backend) ReadFile(ctx context.Context, objectPath string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return content, nil
}

func (b *S3Backend) ListFiles(ctx context.Context, prefix, cursor string, limit int) ([]FileMetadata, string, error) {
	opts := minio.ListObjectsOptions{
		Prefix:     prefix,
		Recursive:  true,
		StartAfter: cursor,
	}

	if limit <= 0 {
		limit = 1000
	}
	var files []FileMetadata
	var next string
	for obj := range b.client.ListObjects(ctx, b.bucket, opts) {
		if obj.Err != nil {
			return nil, "", fmt.Errorf("list objects: %w", obj.Err)
		}
		if len(files) == limit {
			next = files[len(files)-1].Path
			break
		}
		files = append(files, FileMetadata{
			Path:     obj.Key,
			Filename: path.Base(obj.Key),
			Size:     obj.Size,
		})
	}
	return files, next, nil
}

func (b *S3Backend) DownloadURL(ctx context.Context, objectPath string, expiresIn time.Duration) (string, error) {
	if expiresIn <= 0 {
		expiresIn = 5 * time.Minute
	}
	u, err := b.client.PresignedGetObject(ctx, b.bucket, objectPath, expiresIn, nil)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func (b *S3Backend) DeleteFile(ctx context.Context, objectPath string) error {
	_, err := b.client.StatObject(ctx, b.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrNotFound, objectPath)
		}
		return fmt.Errorf("stat object: %w", err)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}
