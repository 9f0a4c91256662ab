// Package webhooksig signs and verifies relay-to-webhook deliveries.
//
// Each delivery carries an RS256 JWT in the X-Queue-Signature header whose
// subject is the job id and whose bsh claim is the SHA-256 of the exact
// request body.
package webhooksig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	Header          = "X-Queue-Signature"
	DefaultTokenTTL = 5 * time.Minute
	DefaultLeeway   = 15 * time.Second
	DefaultKeyID    = "queue-active"
)

// Claims are the signed delivery claims. Subject is the job id.
type Claims struct {
	jwt.RegisteredClaims
	BodySHA256 string `json:"bsh"`
}

// BodyHash returns the hex SHA-256 of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type SignerOptions struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	TTL            time.Duration
}

// Signer issues delivery signatures for the relay.
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
	ttl    time.Duration
}

func NewSigner(opts SignerOptions) (*Signer, error) {
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("signature issuer is required")
	}
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("signature private key path is required")
	}
	key, err := readPrivateKey(path)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	s := &Signer{key: key, kid: strings.TrimSpace(opts.KeyID), issuer: issuer, ttl: opts.TTL}
	if s.kid == "" {
		s.kid = DefaultKeyID
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	return s, nil
}

// Sign binds body and jobID to a token for audience.
func (s *Signer) Sign(audience, jobID string, body []byte) (string, error) {
	audience, jobID = strings.TrimSpace(audience), strings.TrimSpace(jobID)
	if audience == "" || jobID == "" {
		return "", errors.New("signature audience and job id are required")
	}
	jti := make([]byte, 12)
	if _, err := rand.Read(jti); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jti),
			Issuer:    s.issuer,
			Subject:   jobID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		BodySHA256: BodyHash(body),
	})
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}
