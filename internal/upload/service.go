package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var timeNowFunc = time.Now

const maxBaseNameLength = 64

// Request describes one file the caller wants to store.
type Request struct {
	OwnerID     string   `json:"ownerId" validate:"required,max=128"`
	Category    string   `json:"category" validate:"required"`
	Filename    string   `json:"filename" validate:"required,max=255"`
	ContentType string   `json:"contentType" validate:"required"`
	Size        int64    `json:"size" validate:"gt=0"`
	Access      string   `json:"access" validate:"omitempty,oneof=public private"`
	Tags        []string `json:"tags" validate:"max=16,dive,max=64"`
}

type Observer interface {
	ObserveUploadRejected(kind string)
}

type noopObserver struct{}

func (noopObserver) ObserveUploadRejected(string) {}

// Service stores files for an owner after checking ownership, content type
// and the category quota.
type Service struct {
	storage   storage.Service
	locations *policy.Locations
	quotas    *policy.Quotas
	validate  *validator.Validate
	observer  Observer
	pointers  pointer.Store
}

func NewService(storageService storage.Service, locations *policy.Locations, quotas *policy.Quotas) *Service {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		storage:   storageService,
		locations: locations,
		quotas:    quotas,
		validate:  validate,
		observer:  noopObserver{},
	}
}

func (s *Service) WithObserver(observer Observer) *Service {
	if observer != nil {
		s.observer = observer
	}
	return s
}

// WithPointers lets Delete drop an avatar pointer naming the deleted file.
func (s *Service) WithPointers(pointers pointer.Store) *Service {
	s.pointers = pointers
	return s
}

func (s *Service) Upload(ctx context.Context, caller *identity.Identity, req Request, body io.Reader) (*storage.UploadResult, error) {
	result, err := s.upload(ctx, caller, req, body)
	if err != nil {
		s.observer.ObserveUploadRejected(string(apperr.KindOf(err)))
	}
	return result, err
}

func (s *Service) upload(ctx context.Context, caller *identity.Identity, req Request, body io.Reader) (*storage.UploadResult, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	if req.OwnerID == "" {
		req.OwnerID = caller.UserID
	}
	if !caller.Owns(req.OwnerID) {
		return nil, apperr.Forbidden("you can only upload files for yourself")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(err, apperr.KindBadRequest, validationMessage(err))
	}

	category := policy.ParseCategory(req.Category)
	if !category.AllowsContentType(req.ContentType) {
		return nil, apperr.BadRequest(fmt.Sprintf("%s files cannot be uploaded as %s", req.ContentType, category))
	}
	if err := s.quotas.CheckSize(category, req.Size); err != nil {
		return nil, err
	}

	location := s.locations.Resolve(req.OwnerID, category)
	if req.Access != "" {
		location = s.locations.ResolveAccess(req.OwnerID, category, storage.Access(req.Access))
	}

	existing, err := s.list(ctx, location, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if err := s.quotas.Check(category, req.Size, policy.FilterCategory(existing, category)); err != nil {
		log.Info().Str("ownerId", req.OwnerID).Str("category", string(category)).Msg("Upload rejected by quota")
		return nil, err
	}

	name := ObjectName(req.Filename)
	result, err := s.storage.Upload(ctx, storage.UploadInput{
		Bucket:      location.BucketID,
		OwnerID:     req.OwnerID,
		Path:        location.FolderPath,
		Name:        name,
		ContentType: req.ContentType,
		Size:        req.Size,
		Body:        body,
		Metadata: storage.Metadata{
			Category: string(category),
			Access:   location.Access,
			Tags:     req.Tags,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("ownerId", req.OwnerID).Str("bucket", location.BucketID).Msg("Failed to upload file")
		return nil, apperr.FromUpstream(err, "storage is unavailable")
	}

	log.Info().
		Str("ownerId", req.OwnerID).
		Str("category", string(category)).
		Str("name", name).
		Int64("size", req.Size).
		Msg("File uploaded")
	return result, nil
}

// Delete removes fileID after checking it is listed in one of the owner's
// folders. An empty category searches every category.
func (s *Service) Delete(ctx context.Context, caller *identity.Identity, ownerID, category, fileID string) error {
	if caller == nil {
		return apperr.Unauthorized("authentication required")
	}
	if !caller.Owns(ownerID) {
		return apperr.Forbidden("you can only delete your own files")
	}
	if fileID == "" {
		return apperr.BadRequest("file id is required")
	}

	record, found, err := s.find(ctx, ownerID, category, fileID)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("file not found")
	}

	if err := s.storage.Delete(ctx, fileID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("file not found")
		}
		return apperr.FromUpstream(err, "storage is unavailable")
	}
	log.Info().Str("ownerId", ownerID).Str("fileId", fileID).Msg("File deleted")
	s.releasePointer(ctx, ownerID, record)
	return nil
}

// releasePointer clears the owner's avatar pointer when it names record, so
// the next resolution lists storage instead of following a dead pointer.
func (s *Service) releasePointer(ctx context.Context, ownerID string, record storage.FileRecord) {
	if s.pointers == nil {
		return
	}
	raw, err := s.pointers.Get(ctx, ownerID)
	if err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to read avatar pointer")
		return
	}
	p, ok := pointer.Decode(raw)
	if !ok || !pointsAt(p, record.Ref(ownerID), record.PublicURL) {
		return
	}
	if err := s.pointers.Set(ctx, ownerID, ""); err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to clear avatar pointer")
		return
	}
	log.Info().Str("ownerId", ownerID).Str("name", record.Name).Msg("Avatar pointer cleared")
}

func pointsAt(p pointer.Pointer, ref storage.ObjectRef, publicURL string) bool {
	if p.Descriptor != nil {
		return p.Descriptor.Bucket == ref.Bucket &&
			p.Descriptor.Name == ref.Name &&
			strings.Trim(p.Descriptor.Path, "/") == strings.Trim(ref.Path, "/")
	}
	return p.URL == proxy.PathFor(ref) || (publicURL != "" && p.URL == publicURL)
}

// Usage reports the owner's quota state for category.
func (s *Service) Usage(ctx context.Context, caller *identity.Identity, ownerID, rawCategory string) (policy.Usage, error) {
	if caller == nil {
		return policy.Usage{}, apperr.Unauthorized("authentication required")
	}
	if !caller.Owns(ownerID) {
		return policy.Usage{}, apperr.Forbidden("you can only view your own quota")
	}
	if rawCategory == "" {
		return policy.Usage{}, apperr.BadRequest("category is required")
	}

	category := policy.ParseCategory(rawCategory)
	existing, err := s.list(ctx, s.locations.Resolve(ownerID, category), ownerID)
	if err != nil {
		return policy.Usage{}, err
	}
	return s.quotas.Usage(category, policy.FilterCategory(existing, category)), nil
}

func (s *Service) find(ctx context.Context, ownerID, rawCategory, fileID string) (storage.FileRecord, bool, error) {
	categories := policy.Categories
	if rawCategory != "" {
		categories = []policy.Category{policy.ParseCategory(rawCategory)}
	}

	seen := make(map[policy.Location]bool)
	for _, category := range categories {
		for _, access := range []storage.Access{storage.AccessPublic, storage.AccessPrivate} {
			location := s.locations.ResolveAccess(ownerID, category, access)
			if seen[location] {
				continue
			}
			seen[location] = true

			files, err := s.list(ctx, location, ownerID)
			if err != nil {
				return storage.FileRecord{}, false, err
			}
			for _, f := range files {
				if f.ID != fileID {
					continue
				}
				if f.Bucket == "" {
					f.Bucket = location.BucketID
				}
				if f.Path == "" {
					f.Path = location.FolderPath
				}
				return f, true, nil
			}
		}
	}
	return storage.FileRecord{}, false, nil
}

func (s *Service) list(ctx context.Context, location policy.Location, ownerID string) ([]storage.FileRecord, error) {
	files, err := s.storage.List(ctx, location.BucketID, ownerID, location.FolderPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Str("bucket", location.BucketID).Msg("Failed to list owner folder")
		return nil, apperr.FromUpstream(err, "storage is unavailable")
	}
	return files, nil
}

// ObjectName builds a collision-free storage name that keeps the readable
// part of the original filename and its variant suffix.
func ObjectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := sanitize(strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)))
	return fmt.Sprintf("%d_%s_%s%s", timeNowFunc().Unix(), uuid.NewString()[:8], base, sanitizeExt(ext))
}

func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
		if b.Len() >= maxBaseNameLength {
			break
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func sanitizeExt(ext string) string {
	for _, r := range strings.TrimPrefix(ext, ".") {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	if len(ext) > 10 {
		return ""
	}
	return ext
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return "invalid upload request"
	}
	fields := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "invalid upload request: " + strings.Join(fields, ", ")
}
