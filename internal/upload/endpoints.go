package upload

import (
	"context"
	"strings"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/identity"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	service *Service
}

func NewEndpoints(service *Service) *Endpoints {
	return &Endpoints{service: service}
}

// Upload handles a multipart form with the file under "file".
func (e *Endpoints) Upload(ctx *fasthttp.RequestCtx) {
	header, err := ctx.FormFile("file")
	if err != nil {
		apperr.Write(ctx, apperr.BadRequest("multipart field 'file' is required"))
		return
	}

	file, err := header.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		apperr.Write(ctx, apperr.Wrap(err, apperr.KindInternal, "failed to read upload"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	req := Request{
		OwnerID:     string(ctx.FormValue("ownerId")),
		Category:    string(ctx.FormValue("category")),
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Access:      string(ctx.FormValue("access")),
		Tags:        splitTags(string(ctx.FormValue("tags"))),
	}

	result, err := e.service.Upload(context.Background(), identity.FromRequest(ctx), req, file)
	if err != nil {
		apperr.Write(ctx, err)
		return
	}
	apperr.WriteJSON(ctx, fasthttp.StatusCreated, result)
}

func (e *Endpoints) Delete(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("ownerID").(string)
	fileID, _ := ctx.UserValue("fileID").(string)
	category := string(ctx.QueryArgs().Peek("category"))

	if err := e.service.Delete(context.Background(), identity.FromRequest(ctx), ownerID, category, fileID); err != nil {
		apperr.Write(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (e *Endpoints) Quota(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("ownerID").(string)
	category := string(ctx.QueryArgs().Peek("category"))

	usage, err := e.service.Usage(context.Background(), identity.FromRequest(ctx), ownerID, category)
	if err != nil {
		apperr.Write(ctx, err)
		return
	}
	apperr.WriteJSON(ctx, fasthttp.StatusOK, usage)
}

func splitTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
