package avatar

import (
	"context"
	"strings"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	chain *Chain
}

func NewEndpoints(chain *Chain) *Endpoints {
	return &Endpoints{chain: chain}
}

// Avatar redirects to web URLs and placeholders and streams everything
// else, so image tags are never sent to the authenticated proxy.
func (e *Endpoints) Avatar(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("ownerID").(string)
	if ownerID == "" {
		apperr.Write(ctx, apperr.BadRequest("owner id is required"))
		return
	}

	prefer := preferFromQuery(ctx)
	result := e.chain.Resolve(context.Background(), ownerID, prefer)

	if shouldStream(result) {
		obj, streamed := e.chain.Stream(context.Background(), ownerID, prefer, result)
		proxy.WriteObject(ctx, obj, streamed.CacheControl())
		return
	}

	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, result.CacheControl())
	ctx.Response.Header.Set(fasthttp.HeaderLocation, result.URL)
	ctx.SetStatusCode(fasthttp.StatusFound)
}

// SafeAvatar always answers with image bytes from this origin.
func (e *Endpoints) SafeAvatar(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("ownerID").(string)
	if ownerID == "" {
		apperr.Write(ctx, apperr.BadRequest("owner id is required"))
		return
	}

	obj, result := e.chain.ResolveAndStream(context.Background(), ownerID, preferFromQuery(ctx))
	proxy.WriteObject(ctx, obj, result.CacheControl())
}

func (e *Endpoints) Placeholder(ctx *fasthttp.RequestCtx) {
	seed, _ := ctx.UserValue("seed").(string)
	seed = strings.TrimSuffix(seed, ".png")

	png, err := e.chain.placeholders.Render(seed)
	if err != nil {
		log.Error().Err(err).Str("seed", seed).Msg("Failed to render placeholder")
		apperr.Write(ctx, err)
		return
	}

	ctx.SetContentType("image/png")
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "public, max-age=86400, immutable")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(png)
}

func shouldStream(result Result) bool {
	switch result.Source {
	case SourcePlaceholder:
		return false
	case SourcePrivate:
		return true
	}
	if isAbsolute(result.URL) {
		return false
	}
	return result.Ref != nil || strings.HasPrefix(result.URL, proxy.Route+"?")
}

func preferFromQuery(ctx *fasthttp.RequestCtx) []media.Variant {
	switch strings.ToLower(string(ctx.QueryArgs().Peek("variant"))) {
	case "thumb", "thumbnail", "small":
		return media.PreferThumb
	default:
		return media.PreferFull
	}
}
