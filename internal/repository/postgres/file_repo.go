package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// FileRepo implements FileRepository using PostgreSQL.
type FileRepo struct{ db *DB }

// NewFileRepo constructs a file metadata repository.
func NewFileRepo(db *DB) *FileRepo { return &FileRepo{db: db} }

const fileCols = `id, filename, original_filename, content_type, size_bytes, storage_path, owner_id, uploaded_at, checksum, algorithm, key_material, key_wrapped, metadata`

// Create inserts a new file record.
func (r *FileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	meta, err := json.Marshal(nonNilMeta(f.Metadata))
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	const q = `
INSERT INTO files (` + fileCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = r.db.Pool.Exec(ctx, q,
		f.ID, f.Filename, f.OriginalFilename, f.ContentType, f.SizeBytes, f.StoragePath,
		f.OwnerID, f.UploadedAt, f.Checksum, string(f.Algorithm), f.KeyMaterial, f.KeyWrapped, string(meta))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get selects a file record by id.
func (r *FileRepo) Get(ctx context.Context, id uuid.UUID) (*model.FileRecord, error) {
	const q = `SELECT ` + fileCols + ` FROM files WHERE id=$1`
	f, err := scanFile(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a file record.
func (r *FileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM files WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's files, newest first.
func (r *FileRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	const q = `SELECT ` + fileCols + ` FROM files WHERE owner_id=$1 ORDER BY uploaded_at DESC`
	return r.list(ctx, q, ownerID)
}

// SearchByName returns the owner's files whose original name contains query.
func (r *FileRepo) SearchByName(ctx context.Context, ownerID, query string) ([]model.FileRecord, error) {
	const q = `SELECT ` + fileCols + ` FROM files WHERE owner_id=$1 AND original_filename ILIKE $2 ORDER BY uploaded_at DESC`
	return r.list(ctx, q, ownerID, likePattern(query))
}

func (r *FileRepo) list(ctx context.Context, q string, args ...any) ([]model.FileRecord, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var (
		f    model.FileRecord
		alg  string
		meta []byte
	)
	if err := row.Scan(&f.ID, &f.Filename, &f.OriginalFilename, &f.ContentType, &f.SizeBytes,
		&f.StoragePath, &f.OwnerID, &f.UploadedAt, &f.Checksum, &alg, &f.KeyMaterial, &f.KeyWrapped, &meta); err != nil {
		return nil, err
	}
	f.Algorithm = model.Algorithm(alg)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &f.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
	}
	return &f, nil
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
