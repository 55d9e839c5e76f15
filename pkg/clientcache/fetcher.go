package clientcache

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	defaultFetchTimeout = 5 * time.Second
	maxRedirects        = 3
)

// Fetcher loads avatar bytes from the site and caches them. Only bytes
// served from the site's own origin are cached; anything that redirects
// elsewhere is returned but never stored.
type Fetcher struct {
	cache   *Cache
	client  *fasthttp.Client
	site    *url.URL
	timeout time.Duration
}

func NewFetcher(cache *Cache, siteURL string) (*Fetcher, error) {
	site, err := url.Parse(strings.TrimRight(siteURL, "/"))
	if err != nil || site.Host == "" || (site.Scheme != "http" && site.Scheme != "https") {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	return &Fetcher{
		cache: cache,
		client: &fasthttp.Client{
			Name:         "castmedia-client",
			ReadTimeout:  defaultFetchTimeout,
			WriteTimeout: defaultFetchTimeout,
		},
		site:    site,
		timeout: defaultFetchTimeout,
	}, nil
}

func (f *Fetcher) WithDialer(dial fasthttp.DialFunc) *Fetcher {
	f.client.Dial = dial
	return f
}

// Fetch returns the avatar of ownerID in variant ("full" or "thumb").
func (f *Fetcher) Fetch(ctx context.Context, ownerID, variant string) ([]byte, error) {
	if blob, ok := f.cache.Get(ownerID, variant); ok {
		return blob, nil
	}

	target := f.avatarURL(ownerID, variant)
	sameOrigin := true
	for hop := 0; hop <= maxRedirects; hop++ {
		if !f.sameOrigin(target) {
			sameOrigin = false
		}

		body, location, err := f.get(ctx, target)
		if err != nil {
			return nil, err
		}
		if location == nil {
			if sameOrigin {
				if err := f.cache.Put(ownerID, variant, body, target.String()); err != nil {
					log.Debug().Err(err).Str("ownerId", ownerID).Msg("Failed to cache avatar")
				}
			}
			return body, nil
		}
		target = target.ResolveReference(location)
	}
	return nil, fmt.Errorf("too many redirects fetching avatar for %s", ownerID)
}

func (f *Fetcher) avatarURL(ownerID, variant string) *url.URL {
	u := *f.site
	u.Path = strings.TrimRight(f.site.Path, "/") + "/avatar/" + url.PathEscape(ownerID)
	if variant != "" && variant != "full" {
		u.RawQuery = url.Values{"variant": []string{variant}}.Encode()
	}
	return &u
}

func (f *Fetcher) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, f.site.Scheme) && strings.EqualFold(u.Host, f.site.Host)
}

// get performs one request without following redirects. A redirect yields
// its parsed Location instead of a body.
func (f *Fetcher) get(ctx context.Context, target *url.URL) ([]byte, *url.URL, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(target.String())
	req.Header.SetMethod(fasthttp.MethodGet)

	timeout := f.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, nil, context.DeadlineExceeded
	}
	req.SetTimeout(timeout)

	if err := f.client.Do(req, resp); err != nil {
		return nil, nil, fmt.Errorf("avatar request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case fasthttp.StatusCodeIsRedirect(status):
		location, err := url.Parse(string(resp.Header.Peek(fasthttp.HeaderLocation)))
		if err != nil || location.String() == "" {
			return nil, nil, fmt.Errorf("avatar redirect without usable location")
		}
		return nil, location, nil
	case status == fasthttp.StatusOK:
		return append([]byte(nil), resp.Body()...), nil, nil
	default:
		return nil, nil, fmt.Errorf("avatar request answered %d", status)
	}
}
