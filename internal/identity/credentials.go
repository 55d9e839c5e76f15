package identity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshLeeway = 30 * time.Second

// CredentialProvider hands out the service credential used for storage calls.
type CredentialProvider interface {
	Get(ctx context.Context) (string, error)
	Invalidate()
}

type TokenSource interface {
	Login(ctx context.Context, credentials ServiceCredentials) (Token, error)
}

// CachedCredentials keeps one service token and logs in again lazily when
// it is about to expire or has been invalidated. Concurrent refreshes share
// a single login.
type CachedCredentials struct {
	source      TokenSource
	credentials ServiceCredentials
	leeway      time.Duration

	mu       sync.RWMutex
	token    Token
	issuedAt time.Time
	group    singleflight.Group
}

func NewCachedCredentials(source TokenSource, credentials ServiceCredentials, leeway time.Duration) *CachedCredentials {
	if leeway <= 0 {
		leeway = defaultRefreshLeeway
	}
	return &CachedCredentials{
		source:      source,
		credentials: credentials,
		leeway:      leeway,
	}
}

func (c *CachedCredentials) Get(ctx context.Context) (string, error) {
	if token, ok := c.current(); ok {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		if token, ok := c.current(); ok {
			return token, nil
		}
		token, err := c.source.Login(ctx, c.credentials)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = token
		c.issuedAt = timeNowFunc()
		c.mu.Unlock()
		log.Debug().Time("expiresAt", token.ExpiresAt).Msg("Service credential refreshed")
		return token.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *CachedCredentials) Invalidate() {
	c.mu.Lock()
	c.token = Token{}
	c.issuedAt = time.Time{}
	c.mu.Unlock()
	log.Warn().Msg("Service credential invalidated")
}

// ExpiresAt returns the expiry of the cached token, zero when none is held.
func (c *CachedCredentials) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token.ExpiresAt
}

func (c *CachedCredentials) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.AccessToken == "" {
		return "", false
	}
	if !timeNowFunc().Add(c.leewayLocked()).Before(c.token.ExpiresAt) {
		return "", false
	}
	return c.token.AccessToken, true
}

// leewayLocked caps the refresh leeway at half the token's lifetime so a
// short-lived token is still reused.
func (c *CachedCredentials) leewayLocked() time.Duration {
	leeway := c.leeway
	if half := c.token.ExpiresAt.Sub(c.issuedAt) / 2; half < leeway {
		leeway = max(half, 0)
	}
	return leeway
}
