package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// RSABits is the modulus size of generated keypairs.
const RSABits = 2048

// RSAStrategy is the legacy RSA mode. One keypair lives for the lifetime of
// the strategy and is shared by every file, so it gives NO per-file key
// isolation. Plaintext is split into OAEP-SHA256 chunks.
type RSAStrategy struct {
	priv *rsa.PrivateKey
}

// NewRSAStrategy generates a fresh 2048-bit keypair.
func NewRSAStrategy() (*RSAStrategy, error) {
	k, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, fmt.Errorf("rsa keygen: %w", err)
	}
	return &RSAStrategy{priv: k}, nil
}

// LoadRSAStrategy reads a PEM "PRIVATE KEY" (PKCS#8) file, creating it with a
// fresh keypair when missing so RSA files survive restarts.
func LoadRSAStrategy(path string) (*RSAStrategy, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s, err := NewRSAStrategy()
		if err != nil {
			return nil, err
		}
		der, err := s.PrivateKeyDER()
		if err != nil {
			return nil, err
		}
		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("write rsa key: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rsa key: %w", err)
	}
	blk, _ := pem.Decode(raw)
	if blk == nil {
		return nil, errors.New("rsa key: no PEM block")
	}
	k, err := parsePrivate(blk.Bytes)
	if err != nil {
		return nil, err
	}
	return &RSAStrategy{priv: k}, nil
}

// PublicKeyDER returns the PKIX encoding of the shared public key.
func (s *RSAStrategy) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&s.priv.PublicKey)
}

// PrivateKeyDER returns the PKCS#8 encoding of the shared private key.
func (s *RSAStrategy) PrivateKeyDER() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(s.priv)
}

// GenerateKey returns nil: the engine keypair is used for every file.
func (s *RSAStrategy) GenerateKey() ([]byte, error) { return nil, nil }

// Encrypt uses key as a PKIX public key when given, else the shared keypair.
func (s *RSAStrategy) Encrypt(plaintext, key []byte) ([]byte, error) {
	pub := &s.priv.PublicKey
	if len(key) > 0 {
		k, err := x509.ParsePKIXPublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		pub = rk
	}
	h := sha256.New()
	chunk := pub.Size() - 2*h.Size() - 2
	out := make([]byte, 0, (len(plaintext)/chunk+1)*pub.Size())
	for off := 0; ; off += chunk {
		end := min(off+chunk, len(plaintext))
		ct, err := rsa.EncryptOAEP(h, rand.Reader, pub, plaintext[off:end], nil)
		if err != nil {
			return nil, err
		}
		out = append(out, ct...)
		if end == len(plaintext) {
			break
		}
	}
	return out, nil
}

// Decrypt uses key as a PKCS#8 private key when given, else the shared keypair.
func (s *RSAStrategy) Decrypt(ciphertext, key []byte) ([]byte, error) {
	priv := s.priv
	if len(key) > 0 {
		k, err := parsePrivate(key)
		if err != nil {
			return nil, err
		}
		priv = k
	}
	size := priv.Size()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return nil, errors.New("ciphertext is not a whole number of rsa blocks")
	}
	out := make([]byte, 0, len(ciphertext))
	for off := 0; off < len(ciphertext); off += size {
		pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ciphertext[off:off+size], nil)
		if err != nil {
			return nil, err
		}
		out = append(out, pt...)
	}
	return out, nil
}

func parsePrivate(der []byte) (*rsa.PrivateKey, error) {
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rk, nil
}
