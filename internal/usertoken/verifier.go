// Package usertoken verifies end-user access tokens issued by the auth
// service (RS256, keys published as JWKS).
package usertoken

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "interviewprep-auth"
	defaultAudience = "interviewprep-api"
	defaultLeeway   = 30 * time.Second
	defaultKeyTTL   = 5 * time.Minute
	defaultCooldown = 5 * time.Second
)

// Identity is the caller resolved from a verified access token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Config struct {
	JWKSURL  string
	Issuer   string
	Audience string
	Leeway   time.Duration
	// RefreshCooldown bounds how often an unknown kid may refetch the JWKS.
	RefreshCooldown time.Duration
	HTTPClient      *http.Client
}

// Verifier checks signature, issuer, audience and time claims.
type Verifier struct {
	keys   *keySet
	parser *jwt.Parser
}

// NewVerifier fetches the key set once so misconfiguration fails at startup.
func NewVerifier(cfg Config) (*Verifier, error) {
	url := strings.TrimSpace(cfg.JWKSURL)
	if url == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	cooldown := cfg.RefreshCooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	keys := &keySet{url: url, client: client, ttl: defaultKeyTTL, cooldown: cooldown}
	if err := keys.refresh(context.Background()); err != nil {
		return nil, err
	}
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(orDefault(cfg.Issuer, defaultIssuer)),
			jwt.WithAudience(orDefault(cfg.Audience, defaultAudience)),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify returns the identity carried by a valid token.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	var claims accessClaims
	_, err := v.parser.ParseWithClaims(strings.TrimSpace(token), &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.lookup(ctx, strings.TrimSpace(kid))
	})
	if err != nil {
		return Identity{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, errors.New("token subject missing")
	}
	return Identity{
		UserID: subject,
		Email:  strings.TrimSpace(claims.Email),
		Role:   strings.TrimSpace(claims.Role),
	}, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
