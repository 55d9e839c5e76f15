package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/valyala/fasthttp"
)

const (
	defaultLoginTimeout = 3 * time.Second
	defaultTokenTTL     = 5 * time.Minute
)

var timeNowFunc = time.Now

type ServiceCredentials struct {
	ClientID     string
	ClientSecret string
}

type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Client exchanges service credentials for a short-lived access token.
type Client struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
}

func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	return &Client{
		client: &fasthttp.Client{
			Name:         "castmedia",
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		timeout: timeout,
	}
}

func (c *Client) WithDialer(dial fasthttp.DialFunc) *Client {
	c.client.Dial = dial
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) Login(ctx context.Context, credentials ServiceCredentials) (Token, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", credentials.ClientID)
	form.Set("client_secret", credentials.ClientSecret)

	req.SetRequestURI(c.baseURL + "/oauth/token")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBodyString(form.Encode())

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return Token{}, context.DeadlineExceeded
	}
	req.SetTimeout(timeout)

	if err := c.client.Do(req, resp); err != nil {
		return Token{}, fmt.Errorf("identity login request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return Token{}, fmt.Errorf("identity login responded with status %d", resp.StatusCode())
	}

	var body tokenResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return Token{}, fmt.Errorf("identity login returned no access token")
	}

	now := timeNowFunc()
	token := Token{AccessToken: body.AccessToken}
	switch {
	case body.ExpiresIn > 0:
		token.ExpiresAt = now.Add(time.Duration(body.ExpiresIn) * time.Second)
	default:
		if exp, ok := tokenExpiry(body.AccessToken); ok {
			token.ExpiresAt = exp
		} else {
			token.ExpiresAt = now.Add(defaultTokenTTL)
		}
	}
	return token, nil
}

// tokenExpiry reads the exp claim of a compact JWS without verifying it.
// The token is only ever sent back to its issuer.
func tokenExpiry(accessToken string) (time.Time, bool) {
	msg, err := jws.Parse([]byte(accessToken))
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(msg.Payload(), &claims); err != nil || claims.Exp == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.Exp, 0), true
}
