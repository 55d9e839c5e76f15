package proxy

import (
	"context"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	proxy *Proxy
}

func NewEndpoints(proxy *Proxy) *Endpoints {
	return &Endpoints{proxy: proxy}
}

func (e *Endpoints) Proxy(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	ref := storage.ObjectRef{
		Bucket:  string(args.Peek("bucket")),
		OwnerID: string(args.Peek("ownerId")),
		Path:    string(args.Peek("path")),
		Name:    string(args.Peek("name")),
	}

	obj, err := e.proxy.Serve(context.Background(), identity.FromRequest(ctx), ref)
	if err != nil {
		apperr.Write(ctx, err)
		return
	}

	WriteObject(ctx, obj, "private, max-age=300")
}

// WriteObject streams obj as the response body. Only the content type and
// content disposition of the stored object are relayed.
func WriteObject(ctx *fasthttp.RequestCtx, obj *storage.Object, cacheControl string) {
	if obj.ContentType != "" {
		ctx.SetContentType(obj.ContentType)
	} else {
		ctx.SetContentType("application/octet-stream")
	}
	if obj.ContentDisposition != "" {
		ctx.Response.Header.Set(fasthttp.HeaderContentDisposition, obj.ContentDisposition)
	}
	if cacheControl != "" {
		ctx.Response.Header.Set(fasthttp.HeaderCacheControl, cacheControl)
	}
	ctx.Response.Header.Set("X-Content-Type-Options", "nosniff")
	ctx.SetStatusCode(fasthttp.StatusOK)

	size := int(obj.Size)
	if size <= 0 {
		size = -1
	}
	ctx.SetBodyStream(obj.Body, size)
}
