package probe

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"
)

const (
	KindImage    = "image/"
	KindVideo    = "video/"
	KindAudio    = "audio/"
	KindDocument = "application/pdf"

	defaultPositiveTTL = 6 * time.Hour
	defaultNegativeTTL = 3 * time.Minute
	defaultTimeout     = 800 * time.Millisecond
	defaultMaxEntries  = 4096
)

type Config struct {
	PositiveTTL time.Duration `mapstructure:"positive_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxEntries  int           `mapstructure:"max_entries"`
}

type Observer interface {
	ObserveProbe(outcome string)
}

type noopObserver struct{}

func (noopObserver) ObserveProbe(string) {}

type entry struct {
	ok        bool
	expiresAt time.Time
}

// Cache remembers whether candidate URLs serve content of the expected
// kind. Misses and failures are remembered for a short time only.
type Cache struct {
	client   *fasthttp.Client
	entries  *lru.Cache[string, entry]
	group    singleflight.Group
	config   Config
	now      func() time.Time
	observer Observer
}

func NewCache(config Config) (*Cache, error) {
	if config.PositiveTTL <= 0 {
		config.PositiveTTL = defaultPositiveTTL
	}
	if config.NegativeTTL <= 0 {
		config.NegativeTTL = defaultNegativeTTL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaultMaxEntries
	}

	entries, err := lru.New[string, entry](config.MaxEntries)
	if err != nil {
		return nil, err
	}

	return &Cache{
		client: &fasthttp.Client{
			Name:                "castmedia-probe",
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		entries:  entries,
		config:   config,
		now:      time.Now,
		observer: noopObserver{},
	}, nil
}

func (c *Cache) WithDialer(dial fasthttp.DialFunc) *Cache {
	c.client.Dial = dial
	return c
}

func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) WithObserver(observer Observer) *Cache {
	if observer != nil {
		c.observer = observer
	}
	return c
}

// Check reports whether url currently serves an image.
func (c *Cache) Check(ctx context.Context, url string) bool {
	return c.CheckKind(ctx, url, KindImage)
}

// CheckKind reports whether url serves content whose type starts with kind.
func (c *Cache) CheckKind(ctx context.Context, url, kind string) bool {
	key := url
	if kind != KindImage {
		key = kind + " " + url
	}

	if e, ok := c.entries.Get(key); ok && c.now().Before(e.expiresAt) {
		if e.ok {
			c.observer.ObserveProbe("hit_ok")
		} else {
			c.observer.ObserveProbe("hit_missing")
		}
		return e.ok
	}

	v, _, _ := c.group.Do(key, func() (interface{}, error) {
		ok := c.probe(ctx, url, kind)
		ttl := c.config.NegativeTTL
		if ok {
			ttl = c.config.PositiveTTL
			c.observer.ObserveProbe("probe_ok")
		} else {
			c.observer.ObserveProbe("probe_missing")
		}
		c.entries.Add(key, entry{ok: ok, expiresAt: c.now().Add(ttl)})
		return ok, nil
	})
	return v.(bool)
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) probe(ctx context.Context, url, kind string) bool {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodHead)

	timeout := c.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return false
	}
	req.SetTimeout(timeout)

	if err := c.client.Do(req, resp); err != nil {
		log.Debug().Err(err).Str("url", url).Msg("Probe failed")
		return false
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return false
	}
	contentType := strings.ToLower(string(resp.Header.ContentType()))
	return strings.HasPrefix(contentType, kind)
}
