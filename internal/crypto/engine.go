// Package crypto implements the pluggable file ciphers, checksums and
// master-key wrapping used by the file store.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
)

// Strategy is one cipher variant. Implementations are safe for concurrent use.
type Strategy interface {
	// Encrypt returns ciphertext for plaintext under key.
	Encrypt(plaintext, key []byte) ([]byte, error)
	// Decrypt reverses Encrypt.
	Decrypt(ciphertext, key []byte) ([]byte, error)
	// GenerateKey returns fresh key material; nil means the strategy uses its own key.
	GenerateKey() ([]byte, error)
}

// Engine dispatches to a Strategy by stored algorithm tag.
type Engine struct {
	strategies map[model.Algorithm]Strategy
}

// NewEngine constructs an engine with NONE, AES and RSA registered.
// A fresh RSA keypair is generated when rsaKey is nil.
func NewEngine(rsaKey *RSAStrategy) (*Engine, error) {
	if rsaKey == nil {
		var err error
		rsaKey, err = NewRSAStrategy()
		if err != nil {
			return nil, err
		}
	}
	return &Engine{strategies: map[model.Algorithm]Strategy{
		model.AlgNone: noneStrategy{},
		model.AlgAES:  AESStrategy{},
		model.AlgRSA:  rsaKey,
	}}, nil
}

func (e *Engine) strategy(alg model.Algorithm) (Strategy, error) {
	s, ok := e.strategies[alg]
	if !ok {
		return nil, fmt.Errorf("%q: %w", alg, errs.ErrUnsupportedAlgorithm)
	}
	return s, nil
}

// Supports reports whether alg has a registered strategy.
func (e *Engine) Supports(alg model.Algorithm) bool {
	_, ok := e.strategies[alg]
	return ok
}

// Encrypt encrypts plaintext with alg. Cipher failures wrap ErrEncryption.
func (e *Engine) Encrypt(plaintext []byte, alg model.Algorithm, key []byte) ([]byte, error) {
	s, err := e.strategy(alg)
	if err != nil {
		return nil, err
	}
	ct, err := s.Encrypt(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", alg, errs.ErrEncryption, err)
	}
	return ct, nil
}

// Decrypt decrypts ciphertext with alg. Failures wrap ErrDecryption.
func (e *Engine) Decrypt(ciphertext []byte, alg model.Algorithm, key []byte) ([]byte, error) {
	s, err := e.strategy(alg)
	if err != nil {
		return nil, err
	}
	pt, err := s.Decrypt(ciphertext, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", alg, errs.ErrDecryption, err)
	}
	return pt, nil
}

// GenerateKey returns new key material for alg.
func (e *Engine) GenerateKey(alg model.Algorithm) ([]byte, error) {
	s, err := e.strategy(alg)
	if err != nil {
		return nil, err
	}
	k, err := s.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%s keygen: %w: %v", alg, errs.ErrEncryption, err)
	}
	return k, nil
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Checksum is the engine-bound form of the package Checksum.
func (e *Engine) Checksum(data []byte) string { return Checksum(data) }

// noneStrategy stores plaintext as is.
type noneStrategy struct{}

func (noneStrategy) Encrypt(p, _ []byte) ([]byte, error) { return append([]byte(nil), p...), nil }
func (noneStrategy) Decrypt(c, _ []byte) ([]byte, error) { return append([]byte(nil), c...), nil }
func (noneStrategy) GenerateKey() ([]byte, error)        { return nil, nil }
