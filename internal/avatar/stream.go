package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

var errUnstreamable = errors.New("avatar cannot be streamed")

// ResolveAndStream resolves the avatar and opens its bytes. It never fails:
// anything that cannot be read is replaced by the placeholder image.
func (c *Chain) ResolveAndStream(ctx context.Context, ownerID string, prefer []media.Variant) (*storage.Object, Result) {
	return c.Stream(ctx, ownerID, prefer, c.Resolve(ctx, ownerID, prefer))
}

// Stream opens the bytes behind an already resolved result. A pointer whose
// object cannot be opened is bypassed: storage is listed again and the
// pointer is replaced by whatever discovery finds.
func (c *Chain) Stream(ctx context.Context, ownerID string, prefer []media.Variant, result Result) (*storage.Object, Result) {
	if result.Source != SourcePlaceholder {
		obj, err := c.open(ctx, ownerID, result)
		if err == nil {
			return obj, result
		}
		if result.Source == SourcePointer {
			return c.rediscover(ctx, ownerID, prefer, err)
		}
		log.Debug().Err(err).Str("ownerId", ownerID).Str("source", string(result.Source)).Msg("Avatar bytes unavailable, using placeholder")
		result = c.placeholderFor(ownerID)
	}

	obj, err := c.renderPlaceholder(result.Seed)
	if err != nil {
		log.Error().Err(err).Str("ownerId", ownerID).Msg("Failed to render placeholder")
		return &storage.Object{Body: io.NopCloser(bytes.NewReader(nil)), Size: 0, ContentType: "image/png"}, result
	}
	return obj, result
}

func (c *Chain) rediscover(ctx context.Context, ownerID string, prefer []media.Variant, cause error) (*storage.Object, Result) {
	log.Info().Err(cause).Str("ownerId", ownerID).Msg("Avatar pointer is stale, listing storage")
	if isGone(cause) {
		c.forget(ownerID)
	}
	result, ok := c.resolver(prefer, false)(ctx, ownerID)
	if !ok {
		result = c.placeholderFor(ownerID)
	}
	return c.Stream(ctx, ownerID, prefer, result)
}

// isGone reports whether err means the pointed-to object will not come back,
// as opposed to storage being briefly unreachable.
func isGone(err error) bool {
	var statusErr *storage.StatusError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, errUnstreamable):
		return true
	case errors.As(err, &statusErr):
		return statusErr.StatusCode == fasthttp.StatusNotFound || statusErr.StatusCode == fasthttp.StatusGone
	default:
		return false
	}
}

func (c *Chain) open(ctx context.Context, ownerID string, result Result) (*storage.Object, error) {
	if result.Ref != nil {
		return c.storage.Open(ctx, *result.Ref)
	}
	switch {
	case isAbsolute(result.URL):
		return c.fetch(ctx, result.URL)
	case strings.HasPrefix(result.URL, proxy.Route+"?"):
		ref, err := refFromProxyURL(result.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnstreamable, err)
		}
		if ref.OwnerID != ownerID || !c.locations.Known(ref.Bucket) {
			return nil, fmt.Errorf("%w: foreign object", errUnstreamable)
		}
		return c.storage.Open(ctx, ref)
	case c.isPlaceholderURL(result.URL):
		seed := strings.TrimSuffix(result.URL[strings.LastIndex(result.URL, "/")+1:], ".png")
		return c.renderPlaceholder(seed)
	default:
		return nil, fmt.Errorf("%w: %q", errUnstreamable, result.URL)
	}
}

// fetch downloads an absolute avatar URL. Only image responses are accepted.
func (c *Chain) fetch(ctx context.Context, rawURL string) (*storage.Object, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rawURL)
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := c.config.FetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	req.SetTimeout(timeout)

	if err := c.fetcher.Do(req, resp); err != nil {
		return nil, fmt.Errorf("avatar fetch failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, &storage.StatusError{StatusCode: resp.StatusCode()}
	}
	contentType := string(resp.Header.ContentType())
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, fmt.Errorf("%w: served %q", errUnstreamable, contentType)
	}

	body := append([]byte(nil), resp.Body()...)
	return &storage.Object{
		Body:        io.NopCloser(bytes.NewReader(body)),
		Size:        int64(len(body)),
		ContentType: contentType,
	}, nil
}

func (c *Chain) renderPlaceholder(seed string) (*storage.Object, error) {
	png, err := c.placeholders.Render(seed)
	if err != nil {
		return nil, err
	}
	return &storage.Object{
		Body:        io.NopCloser(bytes.NewReader(png)),
		Size:        int64(len(png)),
		ContentType: "image/png",
	}, nil
}

func (c *Chain) isPlaceholderURL(raw string) bool {
	return c.placeholders.IsLocal() && strings.HasPrefix(raw, strings.TrimRight(c.placeholders.base, "/")+"/")
}

func refFromProxyURL(raw string) (storage.ObjectRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return storage.ObjectRef{}, err
	}
	q := u.Query()
	ref := storage.ObjectRef{
		Bucket:  q.Get("bucket"),
		OwnerID: q.Get("ownerId"),
		Path:    q.Get("path"),
		Name:    q.Get("name"),
	}
	if ref.Bucket == "" || ref.Name == "" || strings.Contains(ref.Path, "..") || strings.ContainsAny(ref.Name, "/\\") {
		return storage.ObjectRef{}, fmt.Errorf("malformed proxy url")
	}
	return ref, nil
}
