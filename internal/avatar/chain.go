package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/policy"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	defaultStepTimeout      = 1500 * time.Millisecond
	defaultWriteBackTimeout = 2 * time.Second
	defaultSignedURLTTL     = 10 * time.Minute
	defaultFetchTimeout     = 2 * time.Second
	maxFetchedAvatarBytes   = 10 << 20
)

type Source string

const (
	SourcePointer     Source = "pointer"
	SourcePublic      Source = "public"
	SourcePrivate     Source = "private"
	SourcePlaceholder Source = "placeholder"
)

// Result is a resolved avatar. Ref is set when the bytes can be read from
// storage directly.
type Result struct {
	URL    string
	Source Source
	Ref    *storage.ObjectRef
	Seed   string
}

func (r Result) CacheControl() string {
	switch r.Source {
	case SourcePointer, SourcePublic:
		return "public, max-age=3600"
	case SourcePrivate:
		return "private, max-age=300"
	default:
		return "public, max-age=300"
	}
}

// Resolver is one strategy of the chain. ok false hands over to the next.
type Resolver func(ctx context.Context, ownerID string) (Result, bool)

// FirstSuccess runs resolvers in order and returns the first hit.
func FirstSuccess(resolvers ...Resolver) Resolver {
	return func(ctx context.Context, ownerID string) (Result, bool) {
		for _, resolve := range resolvers {
			if result, ok := resolve(ctx, ownerID); ok {
				return result, true
			}
		}
		return Result{}, false
	}
}

// Prober confirms a candidate URL still serves an image.
type Prober interface {
	Check(ctx context.Context, url string) bool
}

type Observer interface {
	ObserveResolution(source string)
}

type noopObserver struct{}

func (noopObserver) ObserveResolution(string) {}

type Config struct {
	StepTimeout      time.Duration `mapstructure:"step_timeout"`
	WriteBackTimeout time.Duration `mapstructure:"write_back_timeout"`
	SignedURLTTL     time.Duration `mapstructure:"signed_url_ttl"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	PlaceholderBase  string        `mapstructure:"placeholder_base"`
	PlaceholderSize  int           `mapstructure:"placeholder_size"`
	SafePrefixes     []string      `mapstructure:"safe_prefixes"`
}

// Chain resolves an owner's avatar: stored pointer, public headshots,
// private headshots, then a generated placeholder. Steps never fail the
// request; a broken step only hands over to the next one.
type Chain struct {
	pointers     pointer.Store
	names        pointer.NameLookup
	storage      storage.Service
	locations    *policy.Locations
	probes       Prober
	placeholders *Placeholders
	config       Config
	observer     Observer
	fetcher      *fasthttp.Client
	writeBacks   sync.WaitGroup
}

func NewChain(pointers pointer.Store, names pointer.NameLookup, storageService storage.Service, locations *policy.Locations, probes Prober, config Config) *Chain {
	if config.StepTimeout <= 0 {
		config.StepTimeout = defaultStepTimeout
	}
	if config.WriteBackTimeout <= 0 {
		config.WriteBackTimeout = defaultWriteBackTimeout
	}
	if config.SignedURLTTL <= 0 {
		config.SignedURLTTL = defaultSignedURLTTL
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaultFetchTimeout
	}
	if len(config.SafePrefixes) == 0 {
		config.SafePrefixes = DefaultSafePrefixes
	}

	return &Chain{
		pointers:     pointers,
		names:        names,
		storage:      storageService,
		locations:    locations,
		probes:       probes,
		placeholders: NewPlaceholders(config.PlaceholderBase, config.PlaceholderSize),
		config:       config,
		observer:     noopObserver{},
		fetcher: &fasthttp.Client{
			Name:                "castmedia-avatar",
			ReadTimeout:         config.FetchTimeout,
			WriteTimeout:        config.FetchTimeout,
			MaxResponseBodySize: maxFetchedAvatarBytes,
		},
	}
}

func (c *Chain) WithObserver(observer Observer) *Chain {
	if observer != nil {
		c.observer = observer
	}
	return c
}

func (c *Chain) WithDialer(dial fasthttp.DialFunc) *Chain {
	c.fetcher.Dial = dial
	return c
}

func (c *Chain) Placeholders() *Placeholders {
	return c.placeholders
}

// Resolver assembles the ordered strategies for one resolution. prefer
// picks the rendition during folder discovery.
func (c *Chain) Resolver(prefer []media.Variant) Resolver {
	return c.resolver(prefer, true)
}

// resolver without the pointer steps lists storage directly, which is how a
// pointer to a vanished object gets replaced.
func (c *Chain) resolver(prefer []media.Variant, usePointer bool) Resolver {
	stored := &storedPointer{store: c.pointers}
	writeBack := len(prefer) == 0 || prefer[0] == media.PreferFull[0]
	if len(prefer) == 0 {
		prefer = media.PreferFull
	}

	var steps []Resolver
	if usePointer {
		steps = append(steps,
			c.step("pointer_url", func(ctx context.Context, ownerID string) (Result, bool) {
				return c.fromPointerURL(ctx, ownerID, stored)
			}),
			c.step("pointer_descriptor", func(ctx context.Context, ownerID string) (Result, bool) {
				return c.fromPointerDescriptor(ctx, ownerID, stored)
			}),
		)
	}
	return FirstSuccess(append(steps,
		c.step("public_discovery", func(ctx context.Context, ownerID string) (Result, bool) {
			return c.fromPublicFolder(ctx, ownerID, prefer, stored, writeBack)
		}),
		c.step("private_discovery", func(ctx context.Context, ownerID string) (Result, bool) {
			return c.fromPrivateFolder(ctx, ownerID, prefer)
		}),
		c.step("placeholder", func(ctx context.Context, ownerID string) (Result, bool) {
			return c.placeholder(ctx, ownerID), true
		}),
	)...)
}

// Resolve always returns a result; the placeholder step cannot miss.
func (c *Chain) Resolve(ctx context.Context, ownerID string, prefer []media.Variant) Result {
	result, ok := c.Resolver(prefer)(ctx, ownerID)
	if !ok {
		result = c.placeholderFor(ownerID)
	}
	c.observer.ObserveResolution(string(result.Source))
	return result
}

func (c *Chain) ResolveURL(ctx context.Context, ownerID string) string {
	return c.Resolve(ctx, ownerID, media.PreferFull).URL
}

// WaitWriteBacks blocks until pending pointer writes have finished.
func (c *Chain) WaitWriteBacks() {
	c.writeBacks.Wait()
}

// step bounds a strategy by the step timeout and turns panics into a miss.
func (c *Chain) step(name string, resolve Resolver) Resolver {
	return func(ctx context.Context, ownerID string) (result Result, ok bool) {
		ctx, cancel := context.WithTimeout(ctx, c.config.StepTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("step", name).Str("ownerId", ownerID).Interface("panic", r).Msg("Avatar resolution step panicked")
				result, ok = Result{}, false
			}
		}()
		result, ok = resolve(ctx, ownerID)
		if ok {
			log.Debug().Str("step", name).Str("ownerId", ownerID).Str("source", string(result.Source)).Msg("Avatar resolved")
		}
		return result, ok
	}
}

// storedPointer reads the owner's pointer at most once per resolution.
type storedPointer struct {
	store  pointer.Store
	once   sync.Once
	raw    string
	parsed pointer.Pointer
	ok     bool
}

func (s *storedPointer) load(ctx context.Context, ownerID string) (pointer.Pointer, bool) {
	s.once.Do(func() {
		raw, err := s.store.Get(ctx, ownerID)
		if err != nil {
			log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to read avatar pointer")
			return
		}
		s.raw = raw
		s.parsed, s.ok = pointer.Decode(raw)
	})
	return s.parsed, s.ok
}

func (c *Chain) writeBack(ownerID string, ref storage.ObjectRef, current string) {
	value, err := pointer.Encode(pointer.FromRef(ref))
	if err != nil || value == current {
		return
	}
	c.writeBacks.Add(1)
	go func() {
		defer c.writeBacks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteBackTimeout)
		defer cancel()
		if err := c.pointers.Set(ctx, ownerID, value); err != nil {
			log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to write avatar pointer")
		}
	}()
}

// forget clears the owner's pointer. It runs inline so a write-back from the
// discovery that follows cannot be overtaken by it.
func (c *Chain) forget(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteBackTimeout)
	defer cancel()
	if err := c.pointers.Set(ctx, ownerID, ""); err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Msg("Failed to clear stale avatar pointer")
	}
}

func (c *Chain) placeholderFor(ownerID string) Result {
	return Result{URL: c.placeholders.URL(ownerID), Source: SourcePlaceholder, Seed: ownerID}
}
