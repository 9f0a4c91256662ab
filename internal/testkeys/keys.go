// Package testkeys writes throwaway RSA key pairs for signing tests.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var (
	shared     *rsa.PrivateKey
	sharedErr  error
	sharedOnce sync.Once
)

// Key returns an RSA key generated once per test binary.
func Key(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	sharedOnce.Do(func() { shared, sharedErr = rsa.GenerateKey(rand.Reader, 2048) })
	if sharedErr != nil {
		t.Fatalf("generate rsa key: %v", sharedErr)
	}
	return shared
}

// WriteRSAKeyPairFiles stores a freshly generated key as PKCS8 and its public
// half as PKIX under t.TempDir, returning both paths.
func WriteRSAKeyPairFiles(t testing.TB, name string) (privatePath, publicPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return WriteKey(t, name, key)
}

// WriteKey writes key to PEM files named after name.
func WriteKey(t testing.TB, name string, key *rsa.PrivateKey) (privatePath, publicPath string) {
	t.Helper()
	priv, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("encode private key: %v", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	dir := t.TempDir()
	privatePath = writePEM(t, filepath.Join(dir, name+".key"), "PRIVATE KEY", priv, 0o600)
	publicPath = writePEM(t, filepath.Join(dir, name+".pub"), "PUBLIC KEY", pub, 0o644)
	return privatePath, publicPath
}

func writePEM(t testing.TB, path, blockType string, der []byte, mode os.FileMode) string {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
	return path
}
