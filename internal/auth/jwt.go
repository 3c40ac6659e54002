// Package auth issues and verifies the JWT access and refresh tokens used
// by the API, and hashes user passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the "typ" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// MinSecretLen is the shortest accepted HS256 secret.
const MinSecretLen = 32

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("wrong token kind")
)

// Tokens is an access/refresh pair handed to clients.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"typ"`
}

// TokenManager signs and validates HS256 tokens.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenManager validates the secret length and returns a manager.
func NewTokenManager(secret, issuer string, accessTTL, refreshTTL time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("auth: secret must be at least %d characters", MinSecretLen)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// Issue returns a fresh access/refresh pair for userID.
func (m *TokenManager) Issue(userID string) (Tokens, error) {
	access, err := m.sign(userID, KindAccess, m.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := m.sign(userID, KindRefresh, m.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}

// VerifyAccess returns the subject of a valid access token.
func (m *TokenManager) VerifyAccess(token string) (string, error) {
	return m.verify(token, KindAccess)
}

// VerifyRefresh returns the subject of a valid refresh token.
func (m *TokenManager) VerifyRefresh(token string) (string, error) {
	return m.verify(token, KindRefresh)
}

func (m *TokenManager) sign(userID, kind string, ttl time.Duration) (string, error) {
	now := m.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *TokenManager) verify(raw, kind string) (string, error) {
	if raw == "" {
		return "", ErrInvalidToken
	}
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Kind != kind {
		return "", ErrWrongKind
	}
	if c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}
