// Package blob stores encrypted file payloads by key.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/sharevault/internal/errs"
)

// Store persists opaque payloads. Get returns errs.ErrNotFound for an unknown
// key; Delete of an unknown key succeeds.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ValidKey rejects empty keys and keys that could escape a flat namespace.
func ValidKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("blob key %q: %w", key, errs.ErrStorage)
	}
	return nil
}
