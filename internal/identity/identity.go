package identity

import (
	"time"

	"github.com/valyala/fasthttp"
)

const (
	RoleAdmin           = "admin"
	RoleCastingDirector = "casting_director"
	RoleAgent           = "agent"

	userValueKey        = "identity"
	headerAuthorization = "Authorization"
	headerBearer        = "Bearer"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Roles  []string
}

func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, have := range i.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Owns reports whether the caller is ownerID or acts with admin rights.
func (i *Identity) Owns(ownerID string) bool {
	if i == nil {
		return false
	}
	return i.UserID == ownerID || i.HasRole(RoleAdmin)
}

func Attach(ctx *fasthttp.RequestCtx, id *Identity) {
	ctx.SetUserValue(userValueKey, id)
}

// FromRequest returns the identity attached by the auth middleware, or nil.
func FromRequest(ctx *fasthttp.RequestCtx) *Identity {
	id, _ := ctx.UserValue(userValueKey).(*Identity)
	return id
}

type Config struct {
	BaseURL       string        `mapstructure:"base_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	JWTPublicKey  string        `mapstructure:"jwt_public_key"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RefreshLeeway time.Duration `mapstructure:"refresh_leeway"`
}

func (c Config) ServiceCredentials() ServiceCredentials {
	return ServiceCredentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret}
}
