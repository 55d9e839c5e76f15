package identity

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type countingSource struct {
	logins atomic.Int32
	ttl    time.Duration
	delay  time.Duration
	err    error
}

func (s *countingSource) Login(ctx context.Context, credentials ServiceCredentials) (Token, error) {
	n := s.logins.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return Token{}, s.err
	}
	return Token{
		AccessToken: credentials.ClientID + "-token-" + string(rune('0'+n)),
		ExpiresAt:   timeNowFunc().Add(s.ttl),
	}, nil
}

func withNow(t *testing.T, now *time.Time) {
	t.Helper()
	original := timeNowFunc
	timeNowFunc = func() time.Time { return *now }
	t.Cleanup(func() { timeNowFunc = original })
}

func TestCachedCredentials_ShouldReuseTokenUntilNearExpiry(t *testing.T) {
	// given
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	withNow(t, &now)
	source := &countingSource{ttl: 5 * time.Minute}
	creds := NewCachedCredentials(source, ServiceCredentials{ClientID: "svc"}, 30*time.Second)

	// when
	first, err := creds.Get(context.Background())
	require.NoError(t, err)
	now = now.Add(4 * time.Minute)
	second, err := creds.Get(context.Background())
	require.NoError(t, err)
	now = now.Add(31 * time.Second)
	third, err := creds.Get(context.Background())
	require.NoError(t, err)

	// then
	assert.Equal(t, "svc-token-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, "svc-token-2", third)
	assert.Equal(t, int32(2), source.logins.Load())
}

func TestCachedCredentials_ShouldReuseTokenShorterThanLeeway(t *testing.T) {
	// given
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	withNow(t, &now)
	source := &countingSource{ttl: 20 * time.Second}
	creds := NewCachedCredentials(source, ServiceCredentials{ClientID: "svc"}, 30*time.Second)

	// when
	first, err := creds.Get(context.Background())
	require.NoError(t, err)
	now = now.Add(5 * time.Second)
	second, err := creds.Get(context.Background())
	require.NoError(t, err)
	now = now.Add(6 * time.Second)
	third, err := creds.Get(context.Background())
	require.NoError(t, err)

	// then
	assert.Equal(t, "svc-token-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, "svc-token-2", third)
	assert.Equal(t, int32(2), source.logins.Load())
}

func TestCachedCredentials_ShouldLogInAgainAfterInvalidate(t *testing.T) {
	// given
	source := &countingSource{ttl: time.Hour}
	creds := NewCachedCredentials(source, ServiceCredentials{ClientID: "svc"}, 0)
	_, err := creds.Get(context.Background())
	require.NoError(t, err)

	// when
	creds.Invalidate()
	token, err := creds.Get(context.Background())

	// then
	require.NoError(t, err)
	assert.Equal(t, "svc-token-2", token)
	assert.False(t, creds.ExpiresAt().IsZero())
}

func TestCachedCredentials_ShouldShareConcurrentRefresh(t *testing.T) {
	// given
	source := &countingSource{ttl: time.Hour, delay: 50 * time.Millisecond}
	creds := NewCachedCredentials(source, ServiceCredentials{ClientID: "svc"}, 0)

	// when
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = creds.Get(context.Background())
		}()
	}
	wg.Wait()

	// then
	assert.Equal(t, int32(1), source.logins.Load())
}

func TestCachedCredentials_ShouldReportLoginFailure(t *testing.T) {
	source := &countingSource{err: errors.New("identity down")}
	creds := NewCachedCredentials(source, ServiceCredentials{ClientID: "svc"}, 0)

	_, err := creds.Get(context.Background())

	assert.EqualError(t, err, "identity down")
}

func startIdentityServer(t *testing.T, handler fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})
	return NewClient(Config{BaseURL: "http://identity.internal"}).WithDialer(func(addr string) (net.Conn, error) {
		return ln.Dial()
	})
}

func TestClient_Login_ShouldPostClientCredentials(t *testing.T) {
	// given
	var gotPath, gotGrant, gotClient string
	client := startIdentityServer(t, func(ctx *fasthttp.RequestCtx) {
		gotPath = string(ctx.Path())
		gotGrant = string(ctx.PostArgs().Peek("grant_type"))
		gotClient = string(ctx.PostArgs().Peek("client_id"))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"access_token": "opaque", "token_type": "Bearer", "expires_in": 600}`)
	})

	// when
	before := time.Now()
	token, err := client.Login(context.Background(), ServiceCredentials{ClientID: "svc", ClientSecret: "s3cret"})

	// then
	require.NoError(t, err)
	assert.Equal(t, "/oauth/token", gotPath)
	assert.Equal(t, "client_credentials", gotGrant)
	assert.Equal(t, "svc", gotClient)
	assert.Equal(t, "opaque", token.AccessToken)
	assert.WithinDuration(t, before.Add(10*time.Minute), token.ExpiresAt, 5*time.Second)
}

func TestClient_Login_ShouldReadExpiryFromTokenWhenNotReported(t *testing.T) {
	// given
	exp := time.Now().Add(42 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("issuer-key"))
	require.NoError(t, err)
	client := startIdentityServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"access_token": "` + signed + `"}`)
	})

	// when
	token, err := client.Login(context.Background(), ServiceCredentials{ClientID: "svc"})

	// then
	require.NoError(t, err)
	assert.True(t, exp.Equal(token.ExpiresAt))
}

func TestClient_Login_ShouldFailOnRejectedCredentials(t *testing.T) {
	client := startIdentityServer(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})

	_, err := client.Login(context.Background(), ServiceCredentials{ClientID: "svc"})

	assert.Error(t, err)
}
