package media

import (
	"context"
	"errors"

	"github.com/castmedia/castmedia_server/internal/apperr"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const tilesCacheControl = "public, max-age=60"

type Endpoints struct {
	storage   storage.Service
	locations *policy.Locations
}

func NewEndpoints(storageService storage.Service, locations *policy.Locations) *Endpoints {
	return &Endpoints{
		storage:   storageService,
		locations: locations,
	}
}

func (e *Endpoints) HeadshotTiles(ctx *fasthttp.RequestCtx) {
	e.tiles(ctx, policy.CategoryHeadshot)
}

func (e *Endpoints) GalleryTiles(ctx *fasthttp.RequestCtx) {
	e.tiles(ctx, policy.CategoryGallery)
}

func (e *Endpoints) tiles(ctx *fasthttp.RequestCtx, category policy.Category) {
	ownerID, _ := ctx.UserValue("ownerID").(string)
	if ownerID == "" {
		apperr.Write(ctx, apperr.BadRequest("owner id is required"))
		return
	}

	tiles, err := e.Tiles(context.Background(), ownerID, category)
	if err != nil {
		apperr.Write(ctx, err)
		return
	}

	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, tilesCacheControl)
	apperr.WriteJSON(ctx, fasthttp.StatusOK, tiles)
}

// Tiles lists the owner's public folder for category and selects tiles.
// A missing folder is an empty result.
func (e *Endpoints) Tiles(ctx context.Context, ownerID string, category policy.Category) ([]Tile, error) {
	location := e.locations.Resolve(ownerID, category)
	files, err := e.storage.List(ctx, location.BucketID, ownerID, location.FolderPath)
	if errors.Is(err, storage.ErrNotFound) {
		return []Tile{}, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Str("category", string(category)).Msg("Failed to list tiles")
		return nil, apperr.FromUpstream(err, "media listing is unavailable")
	}
	return SelectTiles(files, urlFor(ownerID)), nil
}

// urlFor serves records without a web URL through the proxy.
func urlFor(ownerID string) URLFunc {
	return func(f storage.FileRecord) string {
		if u := f.URL(); u != "" {
			return u
		}
		return proxy.PathFor(f.Ref(ownerID))
	}
}
