package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"opsconsole.dev/internal/ids"
)

const tokenIssuer = "opsconsole"

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// SessionClaims binds a token to an account and a server-side session row.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec returns a codec keyed by secret.
func NewTokenCodec(secret []byte, now func() time.Time) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: session secret is empty")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: secret, now: now}, nil
}

// Sign issues a token for sess.
func (c *TokenCodec) Sign(sess *Session) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(sess.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			ID:        sess.ID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and timestamps and returns the account and session ids.
func (c *TokenCodec) Parse(token string) (accountID int64, sessionID string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(5*time.Second),
	)
	if err != nil {
		return 0, "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || !ids.Valid(claims.ID) {
		return 0, "", ErrInvalidToken
	}
	accountID, err = strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || accountID <= 0 {
		return 0, "", ErrInvalidToken
	}
	return accountID, claims.ID, nil
}
