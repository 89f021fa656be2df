package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of tokens minted for anonymous sessions.
const DefaultTokenTTL = 30 * 24 * time.Hour

type sessionClaims struct {
	Anonymous bool `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider issues and verifies HS256 tokens with a shared secret.
type JWTProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTProvider returns a provider for the given secret. An empty secret
// yields ErrAuthUnavailable.
func NewJWTProvider(secret, issuer string, ttl time.Duration) (*JWTProvider, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrAuthUnavailable)
	}
	if issuer == "" {
		issuer = "obracontrol"
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTProvider{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// SignInAnonymously mints a token for a random subject.
func (p *JWTProvider) SignInAnonymously(ctx context.Context) (*Identity, error) {
	now := p.now()
	claims := sessionClaims{
		Anonymous: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token, err := p.issue(claims)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UID:       claims.Subject,
		Anonymous: true,
		Token:     token,
		IssuedAt:  now,
	}, nil
}

// SignInWithToken verifies a token and returns its subject.
func (p *JWTProvider) SignInWithToken(ctx context.Context, token string) (*Identity, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token: %v", ErrAuthUnavailable, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrAuthUnavailable)
	}

	id := &Identity{
		UID:       claims.Subject,
		Anonymous: claims.Anonymous,
		Token:     token,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	return id, nil
}

// IssueFor signs a non-anonymous token for subject. Used to hand out
// credentials shared between devices.
func (p *JWTProvider) IssueFor(subject string) (string, error) {
	now := p.now()
	return p.issue(sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	})
}

// issue signs claims with the provider secret.
func (p *JWTProvider) issue(claims sessionClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
