package avatar

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultPlaceholderBase = "/avatar/placeholder/"
	defaultPlaceholderSize = 128
	identiconCells         = 5
	renderedCacheSize      = 512
)

// Placeholders builds and renders the generated avatar shown when an owner
// has no usable image. Output depends only on the seed.
type Placeholders struct {
	base     string
	size     int
	rendered *lru.Cache[string, []byte]
}

func NewPlaceholders(base string, size int) *Placeholders {
	if base == "" {
		base = DefaultPlaceholderBase
	}
	if size < identiconCells*4 {
		size = defaultPlaceholderSize
	}
	rendered, _ := lru.New[string, []byte](renderedCacheSize)
	return &Placeholders{base: base, size: size, rendered: rendered}
}

// URL returns the placeholder URL for seed. A base ending in "=" is treated
// as an external generator taking the seed as a query value.
func (p *Placeholders) URL(seed string) string {
	if strings.HasSuffix(p.base, "=") {
		return p.base + url.QueryEscape(strings.TrimSpace(seed))
	}
	return strings.TrimRight(p.base, "/") + "/" + Slug(seed) + ".png"
}

// IsLocal reports whether URL(seed) is served by Render.
func (p *Placeholders) IsLocal() bool {
	return !strings.HasSuffix(p.base, "=")
}

// Slug lower-cases seed and joins its alphanumeric runs with dashes.
func Slug(seed string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(seed) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}

// Render draws a mirrored 5x5 identicon for the slug of seed as PNG.
func (p *Placeholders) Render(seed string) ([]byte, error) {
	slug := Slug(seed)
	if cached, ok := p.rendered.Get(slug); ok {
		return cached, nil
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(slug))
	sum := h.Sum64()

	foreground := color.NRGBA{
		R: uint8(sum>>40) | 0x40,
		G: uint8(sum>>48) | 0x40,
		B: uint8(sum>>56) | 0x40,
		A: 0xff,
	}
	background := color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}

	cell := p.size / (identiconCells + 1)
	margin := (p.size - cell*identiconCells) / 2
	img := imaging.New(p.size, p.size, background)
	block := imaging.New(cell, cell, foreground)

	bit := 0
	for col := 0; col < (identiconCells+1)/2; col++ {
		for row := 0; row < identiconCells; row++ {
			on := sum&(1<<uint(bit)) != 0
			bit++
			if !on {
				continue
			}
			mirror := identiconCells - 1 - col
			img = imaging.Paste(img, block, image.Pt(margin+col*cell, margin+row*cell))
			if mirror != col {
				img = imaging.Paste(img, block, image.Pt(margin+mirror*cell, margin+row*cell))
			}
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}
	out := buf.Bytes()
	p.rendered.Add(slug, out)
	return out, nil
}
