// Package media stores post attachments (thumbnail images and file uploads)
// in S3-compatible object storage. Posts reference objects by key only; the
// database never carries the bytes.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"plume/api/internal/util"
)

// Object is a stored attachment streamed back to the client.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store wraps a MinIO client scoped to one bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore connects to the object store and ensures the bucket exists.
func NewStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create media client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check media bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create media bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Put uploads an attachment and returns the generated object key. The
// original filename survives only as the key's extension.
func (s *Store) Put(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error) {
	key := util.NewID("med")
	if ext := strings.ToLower(path.Ext(filename)); ext != "" {
		key += ext
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store media object: %w", err)
	}
	return key, nil
}

// Get streams an attachment by key.
func (s *Store) Get(ctx context.Context, key string) (Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, fmt.Errorf("fetch media object: %w", err)
	}

	// GetObject is lazy; Stat forces the first request so missing keys
	// surface here instead of mid-stream.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return Object{}, fmt.Errorf("stat media object: %w", err)
	}

	return Object{Body: obj, ContentType: info.ContentType, Size: info.Size}, nil
}

// Remove deletes an attachment. Missing keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove media object: %w", err)
	}
	return nil
}
