// Package memory contains in-process implementations of repository
// interfaces. They are used when no database DSN is configured and in tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/gofrs/uuid/v5"
)

// FileRepo is a map-backed FileRepository.
type FileRepo struct {
	mu    sync.RWMutex
	files map[uuid.UUID]model.FileRecord
}

// NewFileRepo constructs an empty file repository.
func NewFileRepo() *FileRepo {
	return &FileRepo{files: make(map[uuid.UUID]model.FileRecord)}
}

func (r *FileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.ID]; ok {
		return errs.ErrAlreadyExists
	}
	r.files[f.ID] = cloneFile(*f)
	return nil
}

func (r *FileRepo) Get(_ context.Context, id uuid.UUID) (*model.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := cloneFile(f)
	return &c, nil
}

func (r *FileRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *FileRepo) ListByOwner(_ context.Context, ownerID string) ([]model.FileRecord, error) {
	return r.filter(func(f *model.FileRecord) bool { return f.OwnerID == ownerID }), nil
}

func (r *FileRepo) SearchByName(_ context.Context, ownerID, query string) ([]model.FileRecord, error) {
	q := strings.ToLower(query)
	return r.filter(func(f *model.FileRecord) bool {
		return f.OwnerID == ownerID && strings.Contains(strings.ToLower(f.OriginalFilename), q)
	}), nil
}

// filter returns matching records, newest first.
func (r *FileRepo) filter(keep func(*model.FileRecord) bool) []model.FileRecord {
	r.mu.RLock()
	var out []model.FileRecord
	for _, f := range r.files {
		if keep(&f) {
			out = append(out, cloneFile(f))
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.FileRecord) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func cloneFile(f model.FileRecord) model.FileRecord {
	f.KeyMaterial = slices.Clone(f.KeyMaterial)
	f.Metadata = maps.Clone(f.Metadata)
	return f
}
