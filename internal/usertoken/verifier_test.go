package usertoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"interviewprep/internal/testkeys"
)

type jwksServer struct {
	*httptest.Server
	mu      sync.Mutex
	keys    map[string]*rsa.PublicKey
	fetches atomic.Int32
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PublicKey{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.fetches.Add(1)
		s.mu.Lock()
		doc := map[string][]jwk{"keys": {}}
		for kid, key := range s.keys {
			doc["keys"] = append(doc["keys"], jwk{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			})
		}
		s.mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) publish(kid string, key *rsa.PrivateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = &key.PublicKey
}

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims accessClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func validClaims(subject string) accessClaims {
	now := time.Now()
	return accessClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "issuer-a",
		Audience:  jwt.ClaimStrings{"aud-a"},
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now),
	}}
}

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyIdentityAndKeyRotation(t *testing.T) {
	jwks := newJWKSServer(t)
	key1, key2 := newKey(t), newKey(t)
	jwks.publish("kid-1", key1)

	v, err := NewVerifier(Config{JWKSURL: jwks.URL, Issuer: "issuer-a", Audience: "aud-a", RefreshCooldown: time.Nanosecond})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims := validClaims("user-a")
	claims.Email = "a@example.com"
	claims.Role = "admin"
	id, err := v.Verify(context.Background(), sign(t, key1, "kid-1", claims))
	if err != nil || id.UserID != "user-a" || id.Email != "a@example.com" || id.Role != "admin" {
		t.Fatalf("verify: id=%+v err=%v", id, err)
	}
	if got := jwks.fetches.Load(); got != 1 {
		t.Fatalf("cached key should not refetch, fetches=%d", got)
	}

	jwks.publish("kid-2", key2)
	id, err = v.Verify(context.Background(), sign(t, key2, "kid-2", validClaims("user-b")))
	if err != nil || id.UserID != "user-b" || id.Role != "" {
		t.Fatalf("verify rotated: id=%+v err=%v", id, err)
	}
	if got := jwks.fetches.Load(); got != 2 {
		t.Fatalf("unknown kid should refetch once, fetches=%d", got)
	}
}

func TestUnknownKidRespectsCooldown(t *testing.T) {
	jwks := newJWKSServer(t)
	key := testkeys.Key(t)
	jwks.publish("kid-1", key)
	v, err := NewVerifier(Config{JWKSURL: jwks.URL, Issuer: "issuer-a", Audience: "aud-a", RefreshCooldown: time.Hour})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	forged := sign(t, newKey(t), "kid-x", validClaims("mallory"))
	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), forged); err == nil {
			t.Fatalf("expected unknown kid to fail")
		}
	}
	if got := jwks.fetches.Load(); got != 1 {
		t.Fatalf("cooldown should suppress refetches, fetches=%d", got)
	}
}

func TestVerifyRejectsBadClaims(t *testing.T) {
	jwks := newJWKSServer(t)
	key := testkeys.Key(t)
	jwks.publish("kid-1", key)
	v, err := NewVerifier(Config{JWKSURL: jwks.URL, Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	futureIAT := validClaims("u")
	futureIAT.IssuedAt = jwt.NewNumericDate(time.Now().Add(2 * time.Minute))
	wrongAud := validClaims("u")
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	noExp := validClaims("u")
	noExp.ExpiresAt = nil
	noSubject := validClaims("")

	cases := map[string]accessClaims{
		"future iat": futureIAT,
		"audience":   wrongAud,
		"no expiry":  noExp,
		"no subject": noSubject,
	}
	for name, claims := range cases {
		if _, err := v.Verify(context.Background(), sign(t, key, "kid-1", claims)); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"":                      0,
		"no-store":              0,
		"public, max-age=60":    time.Minute,
		"MAX-AGE=5, must-reval": 5 * time.Second,
		"max-age=abc":           0,
	}
	for header, want := range cases {
		if got := maxAge(header); got != want {
			t.Fatalf("maxAge(%q) = %s, want %s", header, got, want)
		}
	}
}
