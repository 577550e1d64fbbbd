package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("")
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	svc, err := NewTokenService("secret")
	require.NoError(t, err)

	token, err := svc.NewToken("u1")
	require.NoError(t, err)

	userID, err := svc.UserIDFromBearer(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestUserIDFromBearer_Rejects(t *testing.T) {
	svc, err := NewTokenService("secret")
	require.NoError(t, err)
	other, err := NewTokenService("another secret")
	require.NoError(t, err)

	foreign, err := other.NewToken("u1")
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":    "not.a.token",
		"foreign":    foreign,
		"expired":    expired,
		"no subject": noSubject,
		"alg none":   unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.UserIDFromBearer(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
