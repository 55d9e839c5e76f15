package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrUnauthorized = errors.New("storage rejected service credential")
)

// StatusError is returned when the storage backend answers with a non-2xx
// status the caller may want to relay.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage responded with status %d", e.StatusCode)
}

// FileRecord is the normalized shape of one entry in a folder listing.
type FileRecord struct {
	ID        string
	Bucket    string
	Name      string
	Path      string
	Size      int64
	MimeType  string
	IsPublic  bool
	Category  string
	SignedURL string
	PublicURL string
}

// URL returns the best web URL the listing carried for the record.
func (f FileRecord) URL() string {
	if f.PublicURL != "" {
		return f.PublicURL
	}
	return f.SignedURL
}

func (f FileRecord) Ref(ownerID string) ObjectRef {
	return ObjectRef{Bucket: f.Bucket, OwnerID: ownerID, Path: f.Path, Name: f.Name}
}

// ObjectRef addresses one object: Path is the folder, Name the file name.
type ObjectRef struct {
	Bucket  string `json:"bucket"`
	OwnerID string `json:"ownerId"`
	Path    string `json:"path"`
	Name    string `json:"name"`
}

func (r ObjectRef) Key() string {
	return path.Join(strings.Trim(r.Path, "/"), r.Name)
}

type Metadata struct {
	Category string
	Access   Access
	Tags     []string
}

type UploadInput struct {
	Bucket      string
	OwnerID     string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	Metadata    Metadata
}

type UploadResult struct {
	ID        string `json:"id"`
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	PublicURL string `json:"publicUrl,omitempty"`
}

// Object is an open object stream. Size is -1 when unknown.
type Object struct {
	Body               io.ReadCloser
	Size               int64
	ContentType        string
	ContentDisposition string
}

// Service is the storage contract the media core consumes.
type Service interface {
	List(ctx context.Context, bucket, ownerID, folder string) ([]FileRecord, error)
	Upload(ctx context.Context, in UploadInput) (*UploadResult, error)
	Delete(ctx context.Context, fileID string) error
	Open(ctx context.Context, ref ObjectRef) (*Object, error)
	SignedURL(ctx context.Context, ref ObjectRef, ttl time.Duration) (string, error)
}

type Type string

const (
	TypeHTTP   Type = "http"
	TypeS3     Type = "s3"
	TypeMemory Type = "memory"
)

type Config struct {
	Type          Type          `mapstructure:"type"`
	BaseURL       string        `mapstructure:"base_url"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	PublicBucket  string        `mapstructure:"public_bucket"`
	MediaBucket   string        `mapstructure:"media_bucket"`
	PrivateBucket string        `mapstructure:"private_bucket"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ListTimeout   time.Duration `mapstructure:"list_timeout"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	S3Endpoint    string        `mapstructure:"s3_endpoint"`
	S3AccessKey   string        `mapstructure:"s3_access_key"`
	S3SecretKey   string        `mapstructure:"s3_secret_key"`
	S3Region      string        `mapstructure:"s3_region"`
	S3UseSSL      bool          `mapstructure:"s3_use_ssl"`
}

// IsPublicBucket reports whether bucket is served without credentials.
func (c Config) IsPublicBucket(bucket string) bool {
	return bucket != "" && (bucket == c.PublicBucket || bucket == c.MediaBucket)
}

func (c Config) Buckets() []string {
	return []string{c.PublicBucket, c.MediaBucket, c.PrivateBucket}
}

// CredentialSource is what the HTTP backend needs from the identity layer.
type CredentialSource interface {
	Get(ctx context.Context) (string, error)
	Invalidate()
}

func NewService(ctx context.Context, config Config, credentials CredentialSource) (Service, error) {
	switch config.Type {
	case TypeS3:
		return NewS3Storage(ctx, config)
	case TypeMemory:
		return NewMemoryStorage(config), nil
	default:
		return NewHTTPClient(config, credentials), nil
	}
}
