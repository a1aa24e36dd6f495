// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/sharevault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// FileRepository persists file metadata records.
type FileRepository interface {
	// Create inserts a new record; ErrAlreadyExists on duplicate id.
	Create(ctx context.Context, f *model.FileRecord) error
	// Get loads a record by id; ErrNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (*model.FileRecord, error)
	// Delete removes a record; ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error)
	// SearchByName matches query case-insensitively against the filename.
	SearchByName(ctx context.Context, ownerID, query string) ([]model.FileRecord, error)
}
