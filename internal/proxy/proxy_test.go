package proxy

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

const (
	upstreamBase  = "http://storage.internal.example:9000"
	serviceSecret = "svc-secret-token"
)

type staticCredentials struct{}

func (staticCredentials) Get(ctx context.Context) (string, error) { return serviceSecret, nil }
func (staticCredentials) Invalidate()                             {}

func newUpstreamProxy(t *testing.T, handler fasthttp.RequestHandler) *Endpoints {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})

	config := storage.Config{BaseURL: upstreamBase, Timeout: time.Second}
	client := storage.NewHTTPClient(config, staticCredentials{}).WithDialer(func(addr string) (net.Conn, error) {
		return ln.Dial()
	})
	return NewEndpoints(NewProxy(client, policy.NewLocations(config)))
}

func proxyRequest(caller *identity.Identity, ref storage.ObjectRef) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.SetRequestURI(PathFor(ref))
	if caller != nil {
		identity.Attach(&ctx, caller)
	}
	return &ctx
}

func assertNoLeak(t *testing.T, ctx *fasthttp.RequestCtx) {
	t.Helper()
	ctx.Response.Header.VisitAll(func(key, value []byte) {
		assert.NotContains(t, string(value), "storage.internal", string(key))
		assert.NotContains(t, string(value), serviceSecret, string(key))
	})
	body := string(ctx.Response.Body())
	assert.NotContains(t, body, "storage.internal")
	assert.NotContains(t, body, serviceSecret)
}

func TestProxy_ShouldStreamWithoutLeakingUpstreamDetails(t *testing.T) {
	// given
	endpoints := newUpstreamProxy(t, func(ctx *fasthttp.RequestCtx) {
		ctx.Response.Header.Set("X-Amz-Request-Id", "abc")
		ctx.Response.Header.Set("Location", upstreamBase+"/internal/redirect")
		ctx.Response.Header.Set("X-Served-By", upstreamBase)
		ctx.Response.Header.Set("Content-Disposition", `inline; filename="cv.pdf"`)
		ctx.SetContentType("application/pdf")
		ctx.SetBodyString("%PDF-1.4 resume")
	})
	ref := storage.ObjectRef{Bucket: "media-private", OwnerID: "u1", Path: "u1/resumes", Name: "cv.pdf"}
	ctx := proxyRequest(&identity.Identity{UserID: "u1"}, ref)

	// when
	endpoints.Proxy(ctx)

	// then
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/pdf", string(ctx.Response.Header.ContentType()))
	assert.Equal(t, `inline; filename="cv.pdf"`, string(ctx.Response.Header.Peek("Content-Disposition")))
	assert.Empty(t, ctx.Response.Header.Peek("X-Amz-Request-Id"))
	assert.Empty(t, ctx.Response.Header.Peek("Location"))
	assert.Equal(t, "%PDF-1.4 resume", string(ctx.Response.Body()))
	assertNoLeak(t, ctx)
}

func TestProxy_ShouldRelayUpstreamStatusWithGenericMessage(t *testing.T) {
	// given
	endpoints := newUpstreamProxy(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString("backend " + upstreamBase + " overloaded, token " + serviceSecret)
	})
	ref := storage.ObjectRef{Bucket: "media-public", OwnerID: "u1", Path: "u1/headshots", Name: "a.jpg"}
	ctx := proxyRequest(&identity.Identity{UserID: "u2"}, ref)

	// when
	endpoints.Proxy(ctx)

	// then
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "storage request failed")
	assertNoLeak(t, ctx)
}

func TestProxy_ShouldRejectAnonymousCaller(t *testing.T) {
	endpoints := newUpstreamProxy(t, func(ctx *fasthttp.RequestCtx) {
		t.Error("storage must not be called")
	})
	ctx := proxyRequest(nil, storage.ObjectRef{Bucket: "media-public", OwnerID: "u1", Path: "u1/headshots", Name: "a.jpg"})

	endpoints.Proxy(ctx)

	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestProxy_ShouldMapMissingObjectToNotFound(t *testing.T) {
	endpoints := newUpstreamProxy(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	})
	ctx := proxyRequest(&identity.Identity{UserID: "u1"}, storage.ObjectRef{Bucket: "media-public", OwnerID: "u1", Path: "u1/headshots", Name: "gone.jpg"})

	endpoints.Proxy(ctx)

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assertNoLeak(t, ctx)
}

func TestServe_ShouldEnforcePrivateBucketAccess(t *testing.T) {
	// given
	memory := storage.NewMemoryStorage(storage.Config{})
	memory.Put(storage.FileRecord{Bucket: "media-private", Path: "u1/resumes", Name: "cv.pdf", MimeType: "application/pdf"}, "u1", []byte("pdf"))
	p := NewProxy(memory, policy.NewLocations(storage.Config{}))
	ref := storage.ObjectRef{Bucket: "media-private", OwnerID: "u1", Path: "u1/resumes", Name: "cv.pdf"}

	cases := []struct {
		name    string
		caller  *identity.Identity
		allowed bool
	}{
		{"owner", &identity.Identity{UserID: "u1"}, true},
		{"admin", &identity.Identity{UserID: "x", Roles: []string{identity.RoleAdmin}}, true},
		{"casting director", &identity.Identity{UserID: "x", Roles: []string{identity.RoleCastingDirector}}, true},
		{"agent", &identity.Identity{UserID: "x", Roles: []string{identity.RoleAgent}}, false},
		{"other actor", &identity.Identity{UserID: "u2"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// when
			obj, err := p.Serve(context.Background(), tc.caller, ref)

			// then
			if tc.allowed {
				require.NoError(t, err)
				obj.Body.Close()
			} else {
				assert.True(t, apperr.Is(err, apperr.KindForbidden))
			}
		})
	}
}

func TestServe_ShouldRejectPathsOutsideOwnerFolder(t *testing.T) {
	p := NewProxy(storage.NewMemoryStorage(storage.Config{}), policy.NewLocations(storage.Config{}))
	caller := &identity.Identity{UserID: "u1"}

	refs := []storage.ObjectRef{
		{Bucket: "media-public", OwnerID: "u1", Path: "u2/headshots", Name: "a.jpg"},
		{Bucket: "media-public", OwnerID: "u1", Path: "u1/../u2", Name: "a.jpg"},
		{Bucket: "media-public", OwnerID: "u1", Path: "u1/headshots", Name: "../a.jpg"},
		{Bucket: "elsewhere", OwnerID: "u1", Path: "u1/headshots", Name: "a.jpg"},
		{Bucket: "media-public", OwnerID: "", Path: "", Name: "a.jpg"},
	}
	for _, ref := range refs {
		_, err := p.Serve(context.Background(), caller, ref)
		assert.True(t, apperr.Is(err, apperr.KindBadRequest), "%+v", ref)
	}
}

func TestPathFor_ShouldBuildSameOriginURL(t *testing.T) {
	path := PathFor(storage.ObjectRef{Bucket: "media-public", OwnerID: "u1", Path: "/u1/headshots/", Name: "a b.jpg"})

	assert.True(t, strings.HasPrefix(path, "/proxy?"))
	assert.Equal(t, "/proxy?bucket=media-public&name=a+b.jpg&ownerId=u1&path=u1%2Fheadshots", path)
}

type blockingStorage struct {
	storage.Service
}

func (blockingStorage) Open(ctx context.Context, ref storage.ObjectRef) (*storage.Object, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestServe_ShouldBoundOpenWithTimeout(t *testing.T) {
	// given
	p := NewProxy(blockingStorage{}, policy.NewLocations(storage.Config{})).WithTimeout(50 * time.Millisecond)
	ref := storage.ObjectRef{Bucket: "media-public", OwnerID: "u1", Path: "u1/headshots", Name: "a.jpg"}

	// when
	started := time.Now()
	_, err := p.Serve(context.Background(), &identity.Identity{UserID: "u1"}, ref)

	// then
	require.Error(t, err)
	assert.Equal(t, fasthttp.StatusGatewayTimeout, apperr.HTTPStatus(err))
	assert.Less(t, time.Since(started), time.Second)
}
