package internal

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const testSecret = "router-test-secret"

func newTestApp(t *testing.T) *App {
	t.Helper()
	config := &Config{
		Server:   ServerConfig{AllowedOrigins: []string{"*"}},
		Storage:  storage.Config{Type: storage.TypeMemory},
		Identity: identity.Config{JWTSecret: testSecret},
		Pointers: pointer.Config{Driver: pointer.DriverMemory},
	}
	app, err := NewApp(context.Background(), config, "test")
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func bearer(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func serve(app *App, method, uri, authorization string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if authorization != "" {
		ctx.Request.Header.Set("Authorization", authorization)
	}
	app.Handler(&ctx)
	return &ctx
}

func TestRouter_PublicRoutes(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		method string
		uri    string
		status int
	}{
		{fasthttp.MethodGet, "/health", fasthttp.StatusOK},
		{fasthttp.MethodGet, "/avatar/u1", fasthttp.StatusFound},
		{fasthttp.MethodHead, "/avatar/u1", fasthttp.StatusFound},
		{fasthttp.MethodGet, "/avatar/safe/u1", fasthttp.StatusOK},
		{fasthttp.MethodGet, "/avatar/placeholder/u1.png", fasthttp.StatusOK},
		{fasthttp.MethodPost, "/avatar/u1", fasthttp.StatusMethodNotAllowed},
		{fasthttp.MethodGet, "/headshots/tiles/u1", fasthttp.StatusOK},
		{fasthttp.MethodGet, "/gallery/tiles/u1", fasthttp.StatusOK},
		{fasthttp.MethodGet, "/reels/tiles/u1", fasthttp.StatusNotFound},
		{fasthttp.MethodGet, "/metrics", fasthttp.StatusOK},
		{fasthttp.MethodGet, "/nope", fasthttp.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.uri, func(t *testing.T) {
			ctx := serve(app, tt.method, tt.uri, "")
			assert.Equal(t, tt.status, ctx.Response.StatusCode())
		})
	}
}

func TestRouter_ShouldRequireAuthentication(t *testing.T) {
	app := newTestApp(t)

	for _, uri := range []string{"/status", "/quota/u1?category=headshot", "/proxy?bucket=media-private&ownerId=u1&path=u1%2Fresumes&name=cv.pdf"} {
		t.Run(uri, func(t *testing.T) {
			ctx := serve(app, fasthttp.MethodGet, uri, "")
			assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
		})
	}
}

func TestRouter_ShouldRedirectToPlaceholderAndServeIt(t *testing.T) {
	// given
	app := newTestApp(t)

	// when
	redirect := serve(app, fasthttp.MethodGet, "/avatar/u1", "")
	location := string(redirect.Response.Header.Peek("Location"))
	image := serve(app, fasthttp.MethodGet, location, "")

	// then
	assert.Equal(t, "/avatar/placeholder/u1.png", location)
	assert.Equal(t, fasthttp.StatusOK, image.Response.StatusCode())
	assert.True(t, bytes.HasPrefix(image.Response.Body(), []byte("\x89PNG")))
}

func TestRouter_ShouldProxyOwnPrivateFile(t *testing.T) {
	// given
	app := newTestApp(t)
	memory := app.Storage.(*storage.MemoryStorage)
	memory.Put(storage.FileRecord{Bucket: "media-private", Path: "u1/resumes", Name: "cv.pdf", MimeType: "application/pdf"}, "u1", []byte("%PDF"))

	// when
	own := serve(app, fasthttp.MethodGet, "/proxy?bucket=media-private&ownerId=u1&path=u1%2Fresumes&name=cv.pdf", bearer(t, "u1"))
	other := serve(app, fasthttp.MethodGet, "/proxy?bucket=media-private&ownerId=u1&path=u1%2Fresumes&name=cv.pdf", bearer(t, "u2"))
	director := serve(app, fasthttp.MethodGet, "/proxy?bucket=media-private&ownerId=u1&path=u1%2Fresumes&name=cv.pdf", bearer(t, "d1", identity.RoleCastingDirector))

	// then
	assert.Equal(t, fasthttp.StatusOK, own.Response.StatusCode())
	assert.Equal(t, "%PDF", string(own.Response.Body()))
	assert.Equal(t, fasthttp.StatusForbidden, other.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, director.Response.StatusCode())
}

func TestRouter_ShouldServeQuotaAndStatusWithToken(t *testing.T) {
	app := newTestApp(t)

	quota := serve(app, fasthttp.MethodGet, "/quota/u1?category=headshot", bearer(t, "u1"))
	status := serve(app, fasthttp.MethodGet, "/status", bearer(t, "u1"))
	deleteMissing := serve(app, fasthttp.MethodDelete, "/files/u1/mem-404", bearer(t, "u1"))

	assert.Equal(t, fasthttp.StatusOK, quota.Response.StatusCode())
	assert.JSONEq(t, `{"category":"headshot","currentCount":0,"maxCount":20,"maxBytes":26214400,"remaining":20}`, string(quota.Response.Body()))
	assert.Equal(t, fasthttp.StatusOK, status.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNotFound, deleteMissing.Response.StatusCode())
}

func TestRouter_ShouldDeleteFileWhoseIDContainsSlashes(t *testing.T) {
	// given
	app := newTestApp(t)
	memory := app.Storage.(*storage.MemoryStorage)
	memory.Put(storage.FileRecord{
		ID:       "media-public:u1/headshots/1_a_large.jpg",
		Bucket:   "media-public",
		Path:     "u1/headshots",
		Name:     "1_a_large.jpg",
		Category: "headshot",
	}, "u1", []byte("jpg"))

	// when
	ctx := serve(app, fasthttp.MethodDelete, "/files/u1/media-public:u1%2Fheadshots%2F1_a_large.jpg", bearer(t, "u1"))

	// then
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	files, err := memory.List(context.Background(), "media-public", "u1", "u1/headshots")
	require.NoError(t, err)
	assert.Empty(t, files)
}
