package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

const testSecret = "test-secret-with-enough-entropy"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func validClaims(subject string, roles ...string) Claims {
	return Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "https://id.castmedia.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func newTestValidator(t *testing.T) *TokenValidator {
	v, err := NewTokenValidator(Config{JWTSecret: testSecret, Issuer: "https://id.castmedia.test"})
	require.NoError(t, err)
	return v
}

func TestValidate_ShouldReturnIdentityWithRoles(t *testing.T) {
	// given
	v := newTestValidator(t)
	claims := validClaims("user-1", RoleCastingDirector)
	claims.Role = RoleAgent
	token := signToken(t, claims)

	// when
	id, err := v.Validate(token)

	// then
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.True(t, id.HasRole(RoleCastingDirector))
	assert.True(t, id.HasRole(RoleAgent))
	assert.False(t, id.HasRole(RoleAdmin))
}

func TestValidate_ShouldRejectWrongIssuer(t *testing.T) {
	// given
	v := newTestValidator(t)
	claims := validClaims("user-1")
	claims.Issuer = "https://elsewhere.test"

	// when
	_, err := v.Validate(signToken(t, claims))

	// then
	assert.Error(t, err)
}

func TestValidate_ShouldRejectExpiredToken(t *testing.T) {
	// given
	v := newTestValidator(t)
	claims := validClaims("user-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	// when
	_, err := v.Validate(signToken(t, claims))

	// then
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidate_ShouldRejectTokenWithoutSubject(t *testing.T) {
	v := newTestValidator(t)

	_, err := v.Validate(signToken(t, validClaims("")))

	assert.Error(t, err)
}

func TestValidate_ShouldFallBackToUserIDClaim(t *testing.T) {
	v := newTestValidator(t)
	claims := validClaims("")
	claims.UserID = "legacy-user"

	id, err := v.Validate(signToken(t, claims))

	require.NoError(t, err)
	assert.Equal(t, "legacy-user", id.UserID)
}

func TestValidateRequest_ShouldRequireBearerHeader(t *testing.T) {
	v := newTestValidator(t)

	var ctx fasthttp.RequestCtx
	_, err := v.ValidateRequest(&ctx)
	assert.Error(t, err)

	ctx.Request.Header.Set("Authorization", "Token abc")
	_, err = v.ValidateRequest(&ctx)
	assert.Error(t, err)

	ctx.Request.Header.Set("Authorization", "Bearer "+signToken(t, validClaims("user-2")))
	id, err := v.ValidateRequest(&ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
}

func TestNewTokenValidator_ShouldRequireKeyMaterial(t *testing.T) {
	_, err := NewTokenValidator(Config{})
	assert.Error(t, err)
}

func TestIdentity_Owns(t *testing.T) {
	var nobody *Identity
	assert.False(t, nobody.Owns("u1"))
	assert.True(t, (&Identity{UserID: "u1"}).Owns("u1"))
	assert.False(t, (&Identity{UserID: "u2"}).Owns("u1"))
	assert.True(t, (&Identity{UserID: "u2", Roles: []string{RoleAdmin}}).Owns("u1"))
}
