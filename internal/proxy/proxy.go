package proxy

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	Route = "/proxy"

	defaultOpenTimeout = 2 * time.Second
)

// PathFor builds the same-origin URL that streams ref through the proxy.
func PathFor(ref storage.ObjectRef) string {
	query := url.Values{}
	query.Set("bucket", ref.Bucket)
	query.Set("ownerId", ref.OwnerID)
	query.Set("path", strings.Trim(ref.Path, "/"))
	query.Set("name", ref.Name)
	return Route + "?" + query.Encode()
}

type Observer interface {
	ObserveProxy(status int)
}

type noopObserver struct{}

func (noopObserver) ObserveProxy(int) {}

// Proxy streams stored objects to authenticated callers using the server's
// own storage credential. Callers never see the backend address or token.
type Proxy struct {
	storage   storage.Service
	locations *policy.Locations
	observer  Observer
	timeout   time.Duration
}

func NewProxy(storageService storage.Service, locations *policy.Locations) *Proxy {
	return &Proxy{
		storage:   storageService,
		locations: locations,
		observer:  noopObserver{},
		timeout:   defaultOpenTimeout,
	}
}

// WithTimeout bounds how long opening an object may take. The body stream
// is bounded by the storage backend.
func (p *Proxy) WithTimeout(timeout time.Duration) *Proxy {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

func (p *Proxy) WithObserver(observer Observer) *Proxy {
	if observer != nil {
		p.observer = observer
	}
	return p
}

// Serve opens the object for caller. The returned body must be closed.
func (p *Proxy) Serve(ctx context.Context, caller *identity.Identity, ref storage.ObjectRef) (*storage.Object, error) {
	obj, err := p.serve(ctx, caller, ref)
	if err != nil {
		p.observer.ObserveProxy(apperr.HTTPStatus(err))
		return nil, err
	}
	p.observer.ObserveProxy(fasthttp.StatusOK)
	return obj, nil
}

func (p *Proxy) serve(ctx context.Context, caller *identity.Identity, ref storage.ObjectRef) (*storage.Object, error) {
	if caller == nil {
		return nil, apperr.Unauthorized("authentication required")
	}
	if err := p.validate(ref); err != nil {
		return nil, err
	}
	if p.locations.IsPrivate(ref.Bucket) &&
		!caller.Owns(ref.OwnerID) &&
		!caller.HasRole(identity.RoleCastingDirector) {
		return nil, apperr.Forbidden("you do not have access to this file")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	obj, err := p.storage.Open(ctx, ref)
	if err != nil {
		return nil, classify(err, ref)
	}
	return obj, nil
}

func (p *Proxy) validate(ref storage.ObjectRef) error {
	if !p.locations.Known(ref.Bucket) {
		return apperr.BadRequest("unknown bucket")
	}
	if ref.OwnerID == "" || ref.Name == "" {
		return apperr.BadRequest("ownerId and name are required")
	}
	if strings.ContainsAny(ref.Name, "/\\") || ref.Name == "." || ref.Name == ".." {
		return apperr.BadRequest("invalid file name")
	}
	folder := strings.Trim(ref.Path, "/")
	if strings.Contains(folder, "\\") {
		return apperr.BadRequest("invalid path")
	}
	for _, segment := range strings.Split(folder, "/") {
		if segment == ".." || segment == "." {
			return apperr.BadRequest("invalid path")
		}
	}
	if folder != ref.OwnerID && !strings.HasPrefix(folder, ref.OwnerID+"/") {
		return apperr.BadRequest("path is outside the owner's folder")
	}
	return nil
}

func classify(err error, ref storage.ObjectRef) error {
	var statusErr *storage.StatusError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound("file not found")
	case errors.Is(err, storage.ErrUnauthorized):
		log.Error().Str("bucket", ref.Bucket).Msg("Storage rejected the service credential")
		return apperr.Upstream(err, fasthttp.StatusBadGateway, "storage is unavailable")
	case errors.As(err, &statusErr):
		log.Warn().Int("status", statusErr.StatusCode).Str("bucket", ref.Bucket).Msg("Storage returned an error status")
		return apperr.Upstream(err, statusErr.StatusCode, "storage request failed")
	default:
		log.Warn().Err(err).Str("bucket", ref.Bucket).Msg("Storage request failed")
		return apperr.FromUpstream(err, "storage is unavailable")
	}
}
