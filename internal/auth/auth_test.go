package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestResolveAccessToken(t *testing.T) {
	r := NewResolver(testSecret, "")

	token, err := CreateAccessToken("user-42", testSecret, time.Hour)
	require.NoError(t, err)

	userID, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	r := NewResolver(testSecret, "")

	token, err := CreateAccessToken("user-42", testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	r := NewResolver(testSecret, "")

	token, err := CreateAccessToken("user-42", "other-secret", time.Hour)
	require.NoError(t, err)

	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveRejectsUnsignedToken(t *testing.T) {
	r := NewResolver(testSecret, "")

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-42"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveRejectsEmptyToken(t *testing.T) {
	r := NewResolver(testSecret, "")

	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveServiceToken(t *testing.T) {
	hash, err := HashServiceSecret("bot-secret")
	require.NoError(t, err)
	r := NewResolver(testSecret, hash)

	userID, err := r.Resolve(ServiceToken("bot-7", "bot-secret"))
	require.NoError(t, err)
	assert.Equal(t, "bot-7", userID)
}

func TestResolveServiceTokenWrongSecret(t *testing.T) {
	hash, err := HashServiceSecret("bot-secret")
	require.NoError(t, err)
	r := NewResolver(testSecret, hash)

	_, err = r.Resolve(ServiceToken("bot-7", "guessed"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolveServiceTokenDisabledWithoutHash(t *testing.T) {
	r := NewResolver(testSecret, "")

	_, err := r.Resolve(ServiceToken("bot-7", "bot-secret"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
