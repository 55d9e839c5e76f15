package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type memoryObject struct {
	record      FileRecord
	ownerID     string
	data        []byte
	contentType string
}

// MemoryStorage is an in-process Service for development and tests. It
// counts calls so callers can assert which paths touched storage.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memoryObject
	config  Config
	seq     int64

	listCalls atomic.Int64
	openCalls atomic.Int64
	listErr   error
}

func NewMemoryStorage(config Config) *MemoryStorage {
	return &MemoryStorage{
		objects: make(map[string]*memoryObject),
		config:  config,
	}
}

// Put stores an object directly, bypassing upload bookkeeping.
func (m *MemoryStorage) Put(record FileRecord, ownerID string, data []byte) FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == "" {
		m.seq++
		record.ID = fmt.Sprintf("mem-%d", m.seq)
	}
	if record.Size == 0 {
		record.Size = int64(len(data))
	}
	m.objects[record.ID] = &memoryObject{record: record, ownerID: ownerID, data: data, contentType: record.MimeType}
	return record
}

// FailListing makes every List call return err until cleared with nil.
func (m *MemoryStorage) FailListing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MemoryStorage) ListCalls() int64 {
	return m.listCalls.Load()
}

func (m *MemoryStorage) OpenCalls() int64 {
	return m.openCalls.Load()
}

func (m *MemoryStorage) List(ctx context.Context, bucket, ownerID, folder string) ([]FileRecord, error) {
	m.listCalls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	folder = strings.Trim(folder, "/")
	var records []FileRecord
	for _, obj := range m.objects {
		if obj.record.Bucket == bucket && obj.ownerID == ownerID && obj.record.Path == folder {
			records = append(records, obj.record)
		}
	}
	return records, nil
}

func (m *MemoryStorage) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	ref := ObjectRef{Bucket: in.Bucket, OwnerID: in.OwnerID, Path: in.Path, Name: in.Name}
	record := FileRecord{
		Bucket:   in.Bucket,
		Name:     in.Name,
		Path:     strings.Trim(in.Path, "/"),
		Size:     int64(len(data)),
		MimeType: in.ContentType,
		IsPublic: in.Metadata.Access == AccessPublic,
		Category: in.Metadata.Category,
	}
	if record.IsPublic && m.config.IsPublicBucket(in.Bucket) {
		record.PublicURL = m.publicURL(ref)
	}
	record = m.Put(record, in.OwnerID, data)

	return &UploadResult{
		ID:        record.ID,
		Bucket:    in.Bucket,
		Path:      record.Path,
		Name:      in.Name,
		Size:      record.Size,
		PublicURL: record.PublicURL,
	}, nil
}

func (m *MemoryStorage) Delete(ctx context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[fileID]; !ok {
		return ErrNotFound
	}
	delete(m.objects, fileID)
	return nil
}

func (m *MemoryStorage) Open(ctx context.Context, ref ObjectRef) (*Object, error) {
	m.openCalls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, obj := range m.objects {
		r := obj.record
		if r.Bucket == ref.Bucket && r.Path == strings.Trim(ref.Path, "/") && r.Name == ref.Name {
			return &Object{
				Body:        io.NopCloser(bytes.NewReader(obj.data)),
				Size:        int64(len(obj.data)),
				ContentType: obj.contentType,
			}, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) SignedURL(ctx context.Context, ref ObjectRef, ttl time.Duration) (string, error) {
	query := url.Values{}
	query.Set("expires", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
	return m.publicURL(ref) + "?" + query.Encode(), nil
}

func (m *MemoryStorage) publicURL(ref ObjectRef) string {
	base := strings.TrimRight(m.config.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.invalid"
	}
	return base + "/" + ref.Bucket + "/" + ref.Key()
}
