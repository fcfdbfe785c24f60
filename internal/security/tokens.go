package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by ParseAccessToken for malformed, expired, or
// wrongly-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims are the validated claims of an access token.
type AccessClaims struct {
	UserID    int64
	SessionID string
	ExpiresAt time.Time
}

// TokenProvider issues and validates HS256 access tokens bound to a session.
type TokenProvider struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenProvider returns a TokenProvider signing with the given secret.
// Returns an error if secret is empty.
func NewTokenProvider(secret, issuer, audience string) (*TokenProvider, error) {
	if secret == "" {
		return nil, errors.New("security: JWT secret must not be empty")
	}
	return &TokenProvider{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// IssueAccessToken creates a signed access token for the user/session pair with the given TTL.
func (p *TokenProvider) IssueAccessToken(userID int64, sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"sid": sessionID,
		"iss": p.issuer,
		"aud": p.audience,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken validates signature, issuer, audience, and expiry, and returns the claims.
func (p *TokenProvider) ParseAccessToken(raw string) (*AccessClaims, error) {
	token, err := jwt.Parse(raw,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return p.secret, nil
		},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return nil, ErrInvalidToken
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrInvalidToken
	}
	return &AccessClaims{UserID: userID, SessionID: sid, ExpiresAt: exp.Time}, nil
}
