package webhooksig

import (
	"crypto/rsa"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBodyMismatch     = errors.New("signature does not match body")
	errUnknownKey       = errors.New("unknown signing key")
)

type VerifierOptions struct {
	// PublicKeyPath is registered under DefaultKeyID.
	PublicKeyPath string
	// VerifyPublicKeyMap adds kid -> path entries for rotation.
	VerifyPublicKeyMap map[string]string
	DefaultKeyID       string
	Audience           string
	AllowedIssuers     []string
	Leeway             time.Duration
}

// Verifier checks delivery signatures on the webhook endpoint.
type Verifier struct {
	keys    map[string]*rsa.PublicKey
	issuers []string
	parser  *jwt.Parser
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	audience := strings.TrimSpace(opts.Audience)
	if audience == "" {
		return nil, errors.New("signature audience is required")
	}
	var issuers []string
	for _, iss := range opts.AllowedIssuers {
		if iss = strings.TrimSpace(iss); iss != "" {
			issuers = append(issuers, iss)
		}
	}
	if len(issuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}

	paths := map[string]string{}
	if p := strings.TrimSpace(opts.PublicKeyPath); p != "" {
		kid := strings.TrimSpace(opts.DefaultKeyID)
		if kid == "" {
			kid = DefaultKeyID
		}
		paths[kid] = p
	}
	for kid, p := range opts.VerifyPublicKeyMap {
		if kid, p = strings.TrimSpace(kid), strings.TrimSpace(p); kid != "" && p != "" {
			paths[kid] = p
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("signature verifier requires an rsa public key")
	}
	keys := make(map[string]*rsa.PublicKey, len(paths))
	for kid, p := range paths {
		pub, err := readPublicKey(p)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		keys[kid] = pub
	}

	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Verifier{
		keys:    keys,
		issuers: issuers,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}, nil
}

// Verify checks token and that it was issued for exactly body.
func (v *Verifier) Verify(token string, body []byte) (Claims, error) {
	var claims Claims
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrMissingSignature
	}
	_, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if key, ok := v.keys[strings.TrimSpace(kid)]; ok {
			return key, nil
		}
		return nil, errUnknownKey
	})
	switch {
	case err != nil:
		return claims, err
	case !slices.Contains(v.issuers, claims.Issuer):
		return claims, fmt.Errorf("issuer %q not allowed", claims.Issuer)
	case claims.ID == "":
		return claims, errors.New("jti required")
	case strings.TrimSpace(claims.Subject) == "":
		return claims, errors.New("subject required")
	}
	if subtle.ConstantTimeCompare([]byte(claims.BodySHA256), []byte(BodyHash(body))) != 1 {
		return claims, ErrBodyMismatch
	}
	return claims, nil
}

// VerifyRequest verifies the signature header of r against body.
func (v *Verifier) VerifyRequest(r *http.Request, body []byte) (Claims, error) {
	return v.Verify(r.Header.Get(Header), body)
}
