package middleware

import (
	"errors"
	"testing"

	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

type fakeValidator struct {
	caller *identity.Identity
	err    error
}

func (f fakeValidator) ValidateRequest(ctx *fasthttp.RequestCtx) (*identity.Identity, error) {
	return f.caller, f.err
}

func TestRequireAuth_ShouldAttachIdentity(t *testing.T) {
	// given
	caller := &identity.Identity{UserID: "u1"}
	auth := NewAuthMiddleware(fakeValidator{caller: caller})
	var seen *identity.Identity

	// when
	var ctx fasthttp.RequestCtx
	auth.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		seen = identity.FromRequest(ctx)
	})(&ctx)

	// then
	assert.Same(t, caller, seen)
}

func TestRequireAuth_ShouldRejectInvalidToken(t *testing.T) {
	auth := NewAuthMiddleware(fakeValidator{err: errors.New("token expired")})
	called := false

	var ctx fasthttp.RequestCtx
	auth.RequireAuth(func(ctx *fasthttp.RequestCtx) { called = true })(&ctx)

	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "token expired")
}

func TestOptionalAuth_ShouldLetAnonymousThrough(t *testing.T) {
	auth := NewAuthMiddleware(fakeValidator{err: errors.New("no token")})
	var seen *identity.Identity
	called := false

	var ctx fasthttp.RequestCtx
	auth.OptionalAuth(func(ctx *fasthttp.RequestCtx) {
		called = true
		seen = identity.FromRequest(ctx)
	})(&ctx)

	assert.True(t, called)
	assert.Nil(t, seen)
}

func TestRequireRole_ShouldForbidMissingRole(t *testing.T) {
	auth := NewAuthMiddleware(fakeValidator{caller: &identity.Identity{UserID: "u1", Roles: []string{"talent"}}})

	var ctx fasthttp.RequestCtx
	auth.RequireRole(func(ctx *fasthttp.RequestCtx) {}, identity.RoleAdmin)(&ctx)

	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())
}

func TestCORS_ShouldEchoAllowedOrigin(t *testing.T) {
	cors := NewCORSMiddleware([]string{"https://app.castmedia.example"})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Origin", "https://app.castmedia.example")
	cors.Handle(func(ctx *fasthttp.RequestCtx) {})(&ctx)

	assert.Equal(t, "https://app.castmedia.example", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "true", string(ctx.Response.Header.Peek("Access-Control-Allow-Credentials")))
}

func TestCORS_ShouldAnswerPreflight(t *testing.T) {
	cors := NewCORSMiddleware(nil)
	called := false

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(fasthttp.MethodOptions)
	ctx.Request.Header.Set("Origin", "http://localhost:5173")
	cors.Handle(func(ctx *fasthttp.RequestCtx) { called = true })(&ctx)

	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, "http://localhost:5173", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
}

func TestCORS_ShouldNotEchoUnknownOrigin(t *testing.T) {
	cors := NewCORSMiddleware([]string{"https://app.castmedia.example"})

	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set("Origin", "https://evil.example.com")
	cors.Handle(func(ctx *fasthttp.RequestCtx) {})(&ctx)

	assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))
}
