package auth

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the stable account identity resolved from a credential. The
// portal owns accounts; this service only ever references them by id.
type Identity struct {
	AccountID int
	Role      string
}

// Claims is the token shape issued by the portal's auth layer.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer credentials issued by the identity
// collaborator. Signature and expiry are checked here; token issuance is
// out of scope.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator constructs an Authenticator with the shared HMAC secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate resolves a token to an account identity.
func (a *Authenticator) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	accountID, err := strconv.Atoi(claims.Subject)
	if err != nil || accountID <= 0 {
		return Identity{}, ErrInvalidToken
	}

	return Identity{AccountID: accountID, Role: claims.Role}, nil
}
