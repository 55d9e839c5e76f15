package avatar

import (
	"context"
	"strings"

	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/proxy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog/log"
)

func (c *Chain) fromPointerURL(ctx context.Context, ownerID string, stored *storedPointer) (Result, bool) {
	p, ok := stored.load(ctx, ownerID)
	if !ok || p.URL == "" {
		return Result{}, false
	}
	if !IsSafeURL(p.URL, c.config.SafePrefixes) {
		log.Warn().Str("ownerId", ownerID).Msg("Ignoring unsafe avatar pointer")
		return Result{}, false
	}
	if strings.HasPrefix(p.URL, avatarRoute) && !c.isPlaceholderURL(p.URL) {
		log.Warn().Str("ownerId", ownerID).Str("url", p.URL).Msg("Ignoring avatar pointer that resolves back to an avatar route")
		return Result{}, false
	}
	return Result{URL: p.URL, Source: SourcePointer}, true
}

// fromPointerDescriptor rebuilds the proxy URL without calling storage.
func (c *Chain) fromPointerDescriptor(ctx context.Context, ownerID string, stored *storedPointer) (Result, bool) {
	p, ok := stored.load(ctx, ownerID)
	if !ok || p.Descriptor == nil {
		return Result{}, false
	}
	ref := *p.Descriptor
	if ref.OwnerID == "" {
		ref.OwnerID = ownerID
	}
	if ref.OwnerID != ownerID || !c.locations.Known(ref.Bucket) {
		log.Warn().Str("ownerId", ownerID).Str("bucket", ref.Bucket).Msg("Ignoring foreign avatar pointer")
		return Result{}, false
	}
	return Result{URL: proxy.PathFor(ref), Source: SourcePointer, Ref: &ref}, true
}

func (c *Chain) fromPublicFolder(ctx context.Context, ownerID string, prefer []media.Variant, stored *storedPointer, writeBack bool) (Result, bool) {
	location := c.locations.Resolve(ownerID, policy.CategoryHeadshot)
	picked, ok := c.discover(ctx, ownerID, location, prefer)
	if !ok {
		return Result{}, false
	}
	ref := picked.Ref(ownerID)

	url := proxy.PathFor(ref)
	if picked.PublicURL != "" {
		if !c.probes.Check(ctx, picked.PublicURL) {
			log.Debug().Str("ownerId", ownerID).Str("name", picked.Name).Msg("Public avatar candidate failed probe")
			return Result{}, false
		}
		url = picked.PublicURL
	}

	if writeBack {
		c.writeBack(ownerID, ref, stored.raw)
	}
	return Result{URL: url, Source: SourcePublic, Ref: &ref}, true
}

// fromPrivateFolder answers with a short-lived signed URL. Nothing is
// persisted since the URL would outlive its signature.
func (c *Chain) fromPrivateFolder(ctx context.Context, ownerID string, prefer []media.Variant) (Result, bool) {
	location := c.locations.ResolveAccess(ownerID, policy.CategoryHeadshot, storage.AccessPrivate)
	picked, ok := c.discover(ctx, ownerID, location, prefer)
	if !ok {
		return Result{}, false
	}
	ref := picked.Ref(ownerID)

	url, err := c.storage.SignedURL(ctx, ref, c.config.SignedURLTTL)
	if err != nil || url == "" {
		log.Debug().Err(err).Str("ownerId", ownerID).Msg("Failed to sign private avatar, using proxy")
		url = proxy.PathFor(ref)
	}
	return Result{URL: url, Source: SourcePrivate, Ref: &ref}, true
}

func (c *Chain) discover(ctx context.Context, ownerID string, location policy.Location, prefer []media.Variant) (storage.FileRecord, bool) {
	files, err := c.storage.List(ctx, location.BucketID, ownerID, location.FolderPath)
	if err != nil {
		log.Debug().Err(err).Str("ownerId", ownerID).Str("bucket", location.BucketID).Msg("Avatar listing failed")
		return storage.FileRecord{}, false
	}
	picked, ok := media.PickSingle(files, prefer)
	if !ok {
		return storage.FileRecord{}, false
	}
	if picked.Bucket == "" {
		picked.Bucket = location.BucketID
	}
	if picked.Path == "" {
		picked.Path = location.FolderPath
	}
	return picked, true
}

// placeholder seeds the generated avatar with the owner's display name,
// or the owner id when no name is known.
func (c *Chain) placeholder(ctx context.Context, ownerID string) Result {
	seed := ownerID
	if c.names != nil {
		name, err := c.names.DisplayName(ctx, ownerID)
		if err != nil {
			log.Debug().Err(err).Str("ownerId", ownerID).Msg("Display name lookup failed")
		} else if name != "" {
			seed = name
		}
	}
	return Result{URL: c.placeholders.URL(seed), Source: SourcePlaceholder, Seed: seed}
}
