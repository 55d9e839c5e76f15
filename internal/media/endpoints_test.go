package media

import (
	"errors"
	"testing"

	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestHeadshotTiles_ShouldReturnTilesWithProxyFallback(t *testing.T) {
	// given
	memory := storage.NewMemoryStorage(storage.Config{})
	memory.Put(storage.FileRecord{Bucket: "media-public", Path: "u1/headshots", Name: "1690000000_shot_small.jpg", PublicURL: "https://cdn.example.com/s.jpg", IsPublic: true}, "u1", nil)
	memory.Put(storage.FileRecord{Bucket: "media-public", Path: "u1/headshots", Name: "1690000000_shot_large.jpg"}, "u1", nil)
	memory.Put(storage.FileRecord{Bucket: "media-public", Path: "u1/headshots", Name: "android-launchericon.png", IsPublic: true}, "u1", nil)
	endpoints := NewEndpoints(memory, policy.NewLocations(storage.Config{}))

	var ctx fasthttp.RequestCtx
	ctx.SetUserValue("ownerID", "u1")

	// when
	endpoints.HeadshotTiles(&ctx)

	// then
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "public, max-age=60", string(ctx.Response.Header.Peek("Cache-Control")))
	var tiles []Tile
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &tiles))
	require.Len(t, tiles, 1)
	assert.Equal(t, "https://cdn.example.com/s.jpg", tiles[0].ThumbURL)
	assert.Equal(t, "/proxy?bucket=media-public&name=1690000000_shot_large.jpg&ownerId=u1&path=u1%2Fheadshots", tiles[0].FullURL)
	assert.Equal(t, "1690000000_shot", tiles[0].BaseName)
}

func TestGalleryTiles_ShouldReportUnavailableStorage(t *testing.T) {
	memory := storage.NewMemoryStorage(storage.Config{})
	memory.FailListing(errors.New("connection refused"))
	endpoints := NewEndpoints(memory, policy.NewLocations(storage.Config{}))

	var ctx fasthttp.RequestCtx
	ctx.SetUserValue("ownerID", "u1")
	endpoints.GalleryTiles(&ctx)

	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "connection refused")
}

func TestTiles_ShouldRequireOwner(t *testing.T) {
	endpoints := NewEndpoints(storage.NewMemoryStorage(storage.Config{}), policy.NewLocations(storage.Config{}))

	var ctx fasthttp.RequestCtx
	endpoints.GalleryTiles(&ctx)

	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}
