package middleware

import (
	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// RequestValidator turns the request's bearer token into an identity.
type RequestValidator interface {
	ValidateRequest(ctx *fasthttp.RequestCtx) (*identity.Identity, error)
}

type AuthMiddleware struct {
	validator RequestValidator
}

func NewAuthMiddleware(validator RequestValidator) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
	}
}

func (am *AuthMiddleware) RequireAuth(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		caller, err := am.validator.ValidateRequest(ctx)
		if err != nil {
			log.Debug().Err(err).Str("path", string(ctx.Path())).Msg("Authentication failed")
			apperr.Write(ctx, apperr.Unauthorized("a valid bearer token is required"))
			return
		}

		identity.Attach(ctx, caller)

		handler(ctx)
	}
}

// OptionalAuth attaches the identity when a valid token is present and
// lets anonymous requests through.
func (am *AuthMiddleware) OptionalAuth(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if len(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) > 0 {
			if caller, err := am.validator.ValidateRequest(ctx); err == nil {
				identity.Attach(ctx, caller)
			}
		}
		handler(ctx)
	}
}

func (am *AuthMiddleware) RequireRole(handler fasthttp.RequestHandler, roles ...string) fasthttp.RequestHandler {
	return am.RequireAuth(func(ctx *fasthttp.RequestCtx) {
		if !identity.FromRequest(ctx).HasRole(roles...) {
			log.Warn().Strs("required", roles).Msg("Insufficient permissions")
			apperr.Write(ctx, apperr.Forbidden("insufficient permissions"))
			return
		}

		handler(ctx)
	})
}
