package policy

import (
	"github.com/castmedia/castmedia_server/internal/storage"
)

const (
	defaultPublicBucket  = "media-public"
	defaultMediaBucket   = "media-public"
	defaultPrivateBucket = "media-private"
)

type Location struct {
	BucketID   string
	FolderPath string
	Access     storage.Access
}

// Locations maps (owner, category) to where the files live. It does no I/O.
type Locations struct {
	publicBucket  string
	mediaBucket   string
	privateBucket string
}

func NewLocations(config storage.Config) *Locations {
	l := &Locations{
		publicBucket:  config.PublicBucket,
		mediaBucket:   config.MediaBucket,
		privateBucket: config.PrivateBucket,
	}
	if l.publicBucket == "" {
		l.publicBucket = defaultPublicBucket
	}
	if l.mediaBucket == "" {
		l.mediaBucket = defaultMediaBucket
	}
	if l.privateBucket == "" {
		l.privateBucket = defaultPrivateBucket
	}
	return l
}

func (l *Locations) Resolve(ownerID string, category Category) Location {
	switch category.Class() {
	case ClassImage:
		return l.location(l.publicBucket, ownerID, category, storage.AccessPublic)
	case ClassMedia:
		return l.location(l.mediaBucket, ownerID, category, storage.AccessPublic)
	default:
		return l.location(l.privateBucket, ownerID, category, storage.AccessPrivate)
	}
}

// ResolveAccess returns the category folder in the bucket serving access,
// e.g. the private staging copies of headshots.
func (l *Locations) ResolveAccess(ownerID string, category Category, access storage.Access) Location {
	home := l.Resolve(ownerID, category)
	if home.Access == access {
		return home
	}
	if access == storage.AccessPrivate {
		return l.location(l.privateBucket, ownerID, category, storage.AccessPrivate)
	}
	bucket := l.publicBucket
	if category.Class() == ClassMedia {
		bucket = l.mediaBucket
	}
	return l.location(bucket, ownerID, category, storage.AccessPublic)
}

func (l *Locations) Known(bucket string) bool {
	return bucket != "" && (bucket == l.publicBucket || bucket == l.mediaBucket || bucket == l.privateBucket)
}

func (l *Locations) IsPrivate(bucket string) bool {
	return bucket == l.privateBucket && bucket != l.publicBucket && bucket != l.mediaBucket
}

func (l *Locations) location(bucket, ownerID string, category Category, access storage.Access) Location {
	return Location{
		BucketID:   bucket,
		FolderPath: ownerID + "/" + category.Folder(),
		Access:     access,
	}
}
