package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"FinCast/internal/domain/models"
	domrepo "FinCast/internal/domain/repository"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSBucket is the subset of *oss.Bucket used by OSSArtifactStore.
type OSSBucket interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
	GetObject(objectKey string, options ...oss.Option) (io.ReadCloser, error)
	DeleteObject(objectKey string, options ...oss.Option) error
}

// OSSArtifactStore stores artifacts as objects in an Aliyun OSS bucket.
type OSSArtifactStore struct {
	bucket OSSBucket
	prefix string
}

// NewOSSBucket connects to endpoint and opens bucket.
func NewOSSBucket(endpoint, accessKeyID, accessKeySecret, bucket string) (*oss.Bucket, error) {
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret, oss.Timeout(30, 120))
	if err != nil {
		return nil, fmt.Errorf("oss client: %w", err)
	}
	b, err := client.Bucket(bucket)
	if err != nil {
		return nil, fmt.Errorf("oss bucket %s: %w", bucket, err)
	}
	return b, nil
}

func NewOSSArtifactStore(bucket OSSBucket, prefix string) *OSSArtifactStore {
	return &OSSArtifactStore{bucket: bucket, prefix: prefix}
}

func (s *OSSArtifactStore) key(p string) string {
	return path.Join(s.prefix, p)
}

// OSS calls are not context aware; ctx is only checked before each call.
func (s *OSSArtifactStore) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.bucket.PutObject(s.key(p), bytes.NewReader(data), oss.ContentType("application/json"))
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", p, err)
	}
	return nil
}

func (s *OSSArtifactStore) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := s.bucket.GetObject(s.key(p))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, p)
		}
		return nil, fmt.Errorf("get artifact %s: %w", p, err)
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", p, err)
	}
	return b, nil
}

func (s *OSSArtifactStore) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// DeleteObject succeeds for absent keys
	if err := s.bucket.DeleteObject(s.key(p)); err != nil {
		return fmt.Errorf("delete artifact %s: %w", p, err)
	}
	return nil
}

func isOSSNotFound(err error) bool {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusNotFound || se.Code == "NoSuchKey"
	}
	var sp *oss.ServiceError
	if errors.As(err, &sp) {
		return sp.StatusCode == http.StatusNotFound || sp.Code == "NoSuchKey"
	}
	return false
}

var _ domrepo.ArtifactStore = (*OSSArtifactStore)(nil)
