package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the master key from a passphrase.
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1

	// MasterKeyLen is the size of the key-wrapping key.
	MasterKeyLen = chacha20poly1305.KeySize
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveMasterKey derives the key-wrapping key from passphrase and salt using Argon2id.
func DeriveMasterKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, MasterKeyLen)
}

// WrapKey encrypts a per-file data key with the master key using
// XChaCha20-Poly1305. The file id is bound as associated data so a wrapped
// key cannot be moved to another record.
func WrapKey(master, dataKey, fileID []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(dataKey)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, dataKey, fileID)...)
	return out, nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(master, wrapped, fileID []byte) ([]byte, error) {
	if len(wrapped) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("wrapped too short")
	}
	aead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return nil, err
	}
	nonce := wrapped[:chacha20poly1305.NonceSizeX]
	ct := wrapped[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, fileID)
}
