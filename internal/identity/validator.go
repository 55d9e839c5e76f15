package identity

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

type Claims struct {
	UserID string   `json:"userId,omitempty"`
	Role   string   `json:"role,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenValidator checks user bearer tokens issued by the identity provider.
type TokenValidator struct {
	publicKey *rsa.PublicKey
	secret    []byte
	issuer    string
}

func NewTokenValidator(config Config) (*TokenValidator, error) {
	v := &TokenValidator{issuer: config.Issuer}
	switch {
	case config.JWTPublicKey != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.JWTPublicKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse identity public key: %w", err)
		}
		v.publicKey = key
	case config.JWTSecret != "":
		v.secret = []byte(config.JWTSecret)
	default:
		return nil, fmt.Errorf("identity requires jwt_public_key or jwt_secret")
	}
	return v, nil
}

func (v *TokenValidator) ValidateRequest(ctx *fasthttp.RequestCtx) (*Identity, error) {
	authHeader := ctx.Request.Header.Peek(headerAuthorization)
	if authHeader == nil {
		return nil, fmt.Errorf("missing authorization header")
	}

	tokenString, err := extractBearer(string(authHeader))
	if err != nil {
		return nil, fmt.Errorf("invalid authorization header: %w", err)
	}

	return v.Validate(tokenString)
}

func (v *TokenValidator) Validate(tokenString string) (*Identity, error) {
	options := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.publicKey != nil {
		options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	} else {
		options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	userID := claims.Subject
	if userID == "" {
		userID = claims.UserID
	}
	if userID == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	roles := append([]string(nil), claims.Roles...)
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	return &Identity{UserID: userID, Roles: roles}, nil
}

func extractBearer(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != headerBearer || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	return parts[1], nil
}
