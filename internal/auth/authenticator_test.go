package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "talent",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateValidToken(t *testing.T) {
	a := NewAuthenticator("secret")
	token := signToken(t, "secret", "42", time.Now().Add(time.Hour))

	identity, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, 42, identity.AccountID)
	assert.Equal(t, "talent", identity.Role)
}

func TestAuthenticateExpiredToken(t *testing.T) {
	a := NewAuthenticator("secret")
	token := signToken(t, "secret", "42", time.Now().Add(-time.Hour))

	_, err := a.Authenticate(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthenticateWrongSecret(t *testing.T) {
	a := NewAuthenticator("secret")
	token := signToken(t, "other", "42", time.Now().Add(time.Hour))

	_, err := a.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateEmptyToken(t *testing.T) {
	a := NewAuthenticator("secret")

	_, err := a.Authenticate("")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticateNonNumericSubject(t *testing.T) {
	a := NewAuthenticator("secret")
	token := signToken(t, "secret", "bob", time.Now().Add(time.Hour))

	_, err := a.Authenticate(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}
