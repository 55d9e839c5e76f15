package media

import (
	"regexp"
	"sort"
	"strings"

	"github.com/castmedia/castmedia_server/internal/storage"
)

type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantLarge     Variant = "large"
	VariantMedium    Variant = "medium"
	VariantSmall     Variant = "small"
	VariantThumbnail Variant = "thumbnail"
)

var (
	thumbOrder = []Variant{VariantSmall, VariantThumbnail, VariantMedium, VariantOriginal, VariantLarge}
	fullOrder  = []Variant{VariantOriginal, VariantLarge, VariantMedium, VariantSmall, VariantThumbnail}

	// PreferFull and PreferThumb are the single-pick orders used when only
	// one rendition is wanted.
	PreferFull  = []Variant{VariantLarge, VariantMedium, VariantSmall}
	PreferThumb = []Variant{VariantSmall, VariantThumbnail, VariantMedium, VariantLarge}
)

var (
	variantPattern   = regexp.MustCompile(`(?i)^(.+?)(?:_(large|medium|small|thumbnail))?\.(jpg|jpeg|png|webp)$`)
	timestampPattern = regexp.MustCompile(`^\d+`)
)

// Tile is one logical image with its list-view and full-size URLs.
type Tile struct {
	ThumbURL string `json:"thumb"`
	FullURL  string `json:"full"`
	BaseName string `json:"name"`
}

// URLFunc returns the URL a record should be served from, or "" if none.
type URLFunc func(storage.FileRecord) string

func RecordURL(f storage.FileRecord) string {
	return f.URL()
}

// ParseVariant splits an image file name into its base and rendition. Names
// outside the grammar come back whole with ok false.
func ParseVariant(name string) (base string, variant Variant, ok bool) {
	m := variantPattern.FindStringSubmatch(name)
	if m == nil {
		return name, VariantOriginal, false
	}
	if m[2] == "" {
		return m[1], VariantOriginal, true
	}
	return m[1], Variant(strings.ToLower(m[2])), true
}

// IsJunk reports names that are never user media: app icons, test fixtures
// and folder markers.
func IsJunk(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "" || n == ".keep" || n == ".ds_store" || n == ".gitkeep":
		return true
	case strings.HasPrefix(n, "android-launchericon"),
		strings.HasPrefix(n, "apple-touch-icon"),
		strings.HasPrefix(n, "favicon"),
		strings.HasPrefix(n, "mstile-"),
		strings.HasPrefix(n, "placeholder"),
		strings.HasPrefix(n, "test"),
		strings.Contains(n, "fixture"):
		return true
	}
	return false
}

type asset struct {
	base     string
	variants map[Variant]storage.FileRecord
}

// group drops junk and non-image names and groups the rest by base name.
// When a rendition appears twice the lexically smaller name wins.
func group(files []storage.FileRecord, urlFor URLFunc) []*asset {
	byBase := make(map[string]*asset)
	for _, f := range files {
		if IsJunk(f.Name) {
			continue
		}
		base, variant, ok := ParseVariant(f.Name)
		if !ok {
			continue
		}
		if urlFor != nil && urlFor(f) == "" {
			continue
		}
		a, exists := byBase[base]
		if !exists {
			a = &asset{base: base, variants: make(map[Variant]storage.FileRecord)}
			byBase[base] = a
		}
		if prev, taken := a.variants[variant]; taken && prev.Name <= f.Name {
			continue
		}
		a.variants[variant] = f
	}

	assets := make([]*asset, 0, len(byBase))
	for _, a := range byBase {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool {
		return newerFirst(assets[i].base, assets[j].base)
	})
	return assets
}

func (a *asset) first(order []Variant) (storage.FileRecord, bool) {
	for _, v := range order {
		if f, ok := a.variants[v]; ok {
			return f, true
		}
	}
	return storage.FileRecord{}, false
}

// SelectTiles turns one folder listing into tiles, newest first. Every
// returned tile has both URLs set.
func SelectTiles(files []storage.FileRecord, urlFor URLFunc) []Tile {
	if urlFor == nil {
		urlFor = RecordURL
	}
	tiles := make([]Tile, 0)
	for _, a := range group(files, urlFor) {
		thumb, okThumb := a.first(thumbOrder)
		full, okFull := a.first(fullOrder)
		if !okThumb || !okFull {
			continue
		}
		tile := Tile{ThumbURL: urlFor(thumb), FullURL: urlFor(full), BaseName: a.base}
		if tile.ThumbURL == "" || tile.FullURL == "" {
			continue
		}
		tiles = append(tiles, tile)
	}
	return tiles
}

// PickSingle returns one rendition of the newest asset in files, following
// prefer and falling back to whatever rendition the asset has.
func PickSingle(files []storage.FileRecord, prefer []Variant) (storage.FileRecord, bool) {
	assets := group(files, nil)
	if len(assets) == 0 {
		return storage.FileRecord{}, false
	}
	newest := assets[0]
	if f, ok := newest.first(prefer); ok {
		return f, true
	}
	if f, ok := newest.first(fullOrder); ok {
		return f, true
	}
	return storage.FileRecord{}, false
}

// newerFirst orders base names by their leading numeric timestamp,
// descending. Names without one sort last; ties fall back to the name.
func newerFirst(a, b string) bool {
	ta := strings.TrimLeft(timestampPattern.FindString(a), "0")
	tb := strings.TrimLeft(timestampPattern.FindString(b), "0")
	hasA := timestampPattern.MatchString(a)
	hasB := timestampPattern.MatchString(b)
	switch {
	case hasA && !hasB:
		return true
	case !hasA && hasB:
		return false
	case hasA && hasB && ta != tb:
		if len(ta) != len(tb) {
			return len(ta) > len(tb)
		}
		return ta > tb
	}
	return a < b
}
