package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	metaCategory = "category"
	metaAccess   = "access"
	metaTags     = "tags"
)

// S3Storage serves the storage contract from an S3-compatible endpoint.
// File ids are "<bucket>:<key>".
type S3Storage struct {
	client *minio.Client
	config Config
}

func NewS3Storage(ctx context.Context, config Config) (*S3Storage, error) {
	client, err := minio.New(config.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.S3AccessKey, config.S3SecretKey, ""),
		Secure: config.S3UseSSL,
		Region: config.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, bucket := range config.Buckets() {
		if bucket == "" {
			continue
		}
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: config.S3Region}); err != nil {
				return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
	}

	return &S3Storage{client: client, config: config}, nil
}

func (s *S3Storage) List(ctx context.Context, bucket, ownerID, folder string) ([]FileRecord, error) {
	prefix := strings.Trim(folder, "/") + "/"
	if !strings.HasPrefix(prefix, ownerID+"/") {
		return nil, fmt.Errorf("folder %q is outside owner %q", folder, ownerID)
	}

	var records []FileRecord
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    false,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		meta := normalizeMetadata(obj.UserMetadata)
		record := FileRecord{
			ID:       bucket + ":" + obj.Key,
			Bucket:   bucket,
			Name:     path.Base(obj.Key),
			Path:     path.Dir(obj.Key),
			Size:     obj.Size,
			MimeType: strings.ToLower(obj.ContentType),
			Category: strings.ToLower(meta[metaCategory]),
		}
		switch meta[metaAccess] {
		case string(AccessPublic):
			record.IsPublic = true
		case string(AccessPrivate):
			record.IsPublic = false
		default:
			record.IsPublic = s.config.IsPublicBucket(bucket)
		}
		if record.IsPublic && s.config.IsPublicBucket(bucket) {
			record.PublicURL = s.publicURL(bucket, obj.Key)
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *S3Storage) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	ref := ObjectRef{Bucket: in.Bucket, OwnerID: in.OwnerID, Path: in.Path, Name: in.Name}
	key := ref.Key()
	size := in.Size
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, in.Bucket, key, in.Body, size, minio.PutObjectOptions{
		ContentType: in.ContentType,
		UserMetadata: map[string]string{
			metaCategory: in.Metadata.Category,
			metaAccess:   string(in.Metadata.Access),
			metaTags:     strings.Join(in.Metadata.Tags, ","),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	result := &UploadResult{
		ID:     in.Bucket + ":" + key,
		Bucket: in.Bucket,
		Path:   in.Path,
		Name:   in.Name,
		Size:   in.Size,
	}
	if in.Metadata.Access == AccessPublic && s.config.IsPublicBucket(in.Bucket) {
		result.PublicURL = s.publicURL(in.Bucket, key)
	}
	return result, nil
}

func (s *S3Storage) Delete(ctx context.Context, fileID string) error {
	bucket, key, ok := strings.Cut(fileID, ":")
	if !ok || bucket == "" || key == "" {
		return ErrNotFound
	}
	return s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

// Open stats the object within the request timeout and ctx. The body is
// read under its own stream timeout so it outlives a short ctx.
func (s *S3Storage) Open(ctx context.Context, ref ObjectRef) (*Object, error) {
	streamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), streamTimeoutOf(s.config))
	obj, err := s.client.GetObject(streamCtx, ref.Bucket, ref.Key(), minio.GetObjectOptions{})
	if err != nil {
		cancel()
		return nil, err
	}

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	statCtx, cancelStat := context.WithTimeout(ctx, timeout)
	defer cancelStat()

	info, err := statWithin(statCtx, obj)
	if err != nil {
		obj.Close()
		cancel()
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		if errResponse.StatusCode != 0 {
			return nil, &StatusError{StatusCode: errResponse.StatusCode}
		}
		return nil, err
	}

	return &Object{
		Body:               &cancelOnClose{ReadCloser: obj, cancel: cancel},
		Size:               info.Size,
		ContentType:        info.ContentType,
		ContentDisposition: info.Metadata.Get("Content-Disposition"),
	}, nil
}

func statWithin(ctx context.Context, obj *minio.Object) (minio.ObjectInfo, error) {
	type statResult struct {
		info minio.ObjectInfo
		err  error
	}
	done := make(chan statResult, 1)
	go func() {
		info, err := obj.Stat()
		done <- statResult{info: info, err: err}
	}()

	select {
	case r := <-done:
		return r.info, r.err
	case <-ctx.Done():
		return minio.ObjectInfo{}, ctx.Err()
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func (s *S3Storage) SignedURL(ctx context.Context, ref ObjectRef, ttl time.Duration) (string, error) {
	presignedURL, err := s.client.PresignedGetObject(ctx, ref.Bucket, ref.Key(), ttl, nil)
	if err != nil {
		return "", err
	}
	return presignedURL.String(), nil
}

func (s *S3Storage) publicURL(bucket, key string) string {
	base := strings.TrimRight(s.config.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if s.config.S3UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + s.config.S3Endpoint
	}
	return base + "/" + bucket + "/" + key
}

// normalizeMetadata lower-cases keys and strips the x-amz-meta- prefix that
// some servers keep on listed user metadata.
func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = strings.ToLower(v)
	}
	return out
}
