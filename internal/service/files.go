// Package service implements the file store and room registry on top of the
// repository, blob and crypto layers.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/sharevault/internal/blob"
	"github.com/and161185/sharevault/internal/crypto"
	"github.com/and161185/sharevault/internal/errs"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultMaxFileSize is the upload ceiling when none is configured.
const DefaultMaxFileSize int64 = 100 << 20

// DefaultAllowedTypes is the content-type allow-list. Entries ending in "/"
// match a whole top-level type.
var DefaultAllowedTypes = []string{
	"image/",
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.",
	"text/plain",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/zip",
	"application/x-rar-compressed",
	"application/x-tar",
	"application/gzip",
}

// FileService stores encrypted files and their metadata.
type FileService interface {
	// Store validates, encrypts and persists an upload.
	Store(ctx context.Context, up model.Upload) (*model.FileRecord, error)
	// Load returns the decrypted content and its record.
	Load(ctx context.Context, id uuid.UUID) ([]byte, *model.FileRecord, error)
	// Delete removes the blob, the record and every room reference.
	Delete(ctx context.Context, id uuid.UUID) error
	// HasAccess reports whether userID owns the file or shares a room with it.
	HasAccess(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	// Get returns the record without reading the blob.
	Get(ctx context.Context, id uuid.UUID) (*model.FileRecord, error)
	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error)
	// Search matches query against the owner's original filenames.
	Search(ctx context.Context, ownerID, query string) ([]model.FileRecord, error)
}

// RoomIndex is the slice of the room registry the file store calls out to.
type RoomIndex interface {
	CanAccessFile(ctx context.Context, fileID uuid.UUID, userID string) (bool, error)
	RemoveFileEverywhere(ctx context.Context, fileID uuid.UUID) error
}

// FileOptions tunes FileServiceImpl.
type FileOptions struct {
	MaxFileSize    int64
	AllowedTypes   []string
	VerifyChecksum bool
	Timeout        time.Duration
	// MasterKey, when set, wraps every per-file data key.
	MasterKey []byte
}

// DefaultFileOptions returns the production defaults.
func DefaultFileOptions() FileOptions {
	return FileOptions{
		MaxFileSize:    DefaultMaxFileSize,
		AllowedTypes:   DefaultAllowedTypes,
		VerifyChecksum: true,
		Timeout:        30 * time.Second,
	}
}

// FileServiceImpl is the FileService over a metadata repository and a blob store.
type FileServiceImpl struct {
	files  repository.FileRepository
	blobs  blob.Store
	engine *crypto.Engine
	rooms  RoomIndex
	opts   FileOptions
	log    *zap.Logger
}

// NewFileService constructs the file store. rooms may be nil, in which case
// only owners have access and delete skips room cleanup.
func NewFileService(
	files repository.FileRepository, blobs blob.Store, engine *crypto.Engine,
	rooms RoomIndex, opts FileOptions, log *zap.Logger,
) (*FileServiceImpl, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.AllowedTypes == nil {
		opts.AllowedTypes = DefaultAllowedTypes
	}
	if opts.MasterKey != nil && len(opts.MasterKey) != crypto.MasterKeyLen {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", crypto.MasterKeyLen, len(opts.MasterKey))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileServiceImpl{files: files, blobs: blobs, engine: engine, rooms: rooms, opts: opts, log: log}, nil
}

func (s *FileServiceImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// validate checks an upload without side effects and returns the algorithm to use.
func (s *FileServiceImpl) validate(up *model.Upload) (model.Algorithm, error) {
	if len(up.Data) == 0 {
		return "", fmt.Errorf("empty file: %w", errs.ErrInvalidMetadata)
	}
	if up.OwnerID == "" {
		return "", fmt.Errorf("empty owner: %w", errs.ErrInvalidMetadata)
	}
	if strings.TrimSpace(up.Filename) == "" {
		return "", fmt.Errorf("empty filename: %w", errs.ErrInvalidMetadata)
	}
	if int64(len(up.Data)) > s.opts.MaxFileSize {
		return "", fmt.Errorf("%d > %d bytes: %w", len(up.Data), s.opts.MaxFileSize, errs.ErrSizeExceeded)
	}
	if !s.typeAllowed(up.ContentType) {
		return "", fmt.Errorf("%q: %w", up.ContentType, errs.ErrTypeNotSupported)
	}
	alg := up.Algorithm
	if alg == "" {
		alg = model.AlgAES
	}
	if !s.engine.Supports(alg) {
		return "", fmt.Errorf("%q: %w", alg, errs.ErrUnsupportedAlgorithm)
	}
	return alg, nil
}

func (s *FileServiceImpl) typeAllowed(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, a := range s.opts.AllowedTypes {
		a = strings.ToLower(a)
		if mt == a || (strings.HasSuffix(a, "/") || strings.HasSuffix(a, ".")) && strings.HasPrefix(mt, a) {
			return true
		}
	}
	return false
}

// storageName returns a random hex token plus the original extension.
func storageName(original string) (string, error) {
	tok, err := crypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(tok) + safeExt(original), nil
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// storageErr tags repository failures as ErrStorage unless they already
// carry a domain sentinel.
func storageErr(op string, err error) error {
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrAlreadyExists) || errors.Is(err, errs.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, errs.ErrStorage, err)
}

func (s *FileServiceImpl) Store(ctx context.Context, up model.Upload) (*model.FileRecord, error) {
	alg, err := s.validate(&up)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	sum := s.engine.Checksum(up.Data)
	key, err := s.engine.GenerateKey(alg)
	if err != nil {
		return nil, err
	}
	ct, err := s.engine.Encrypt(up.Data, alg, key)
	if err != nil {
		return nil, err
	}
	keyMaterial, wrapped := key, false
	if s.opts.MasterKey != nil && len(key) > 0 {
		keyMaterial, err = crypto.WrapKey(s.opts.MasterKey, key, id.Bytes())
		if err != nil {
			return nil, fmt.Errorf("wrap key: %w: %v", errs.ErrEncryption, err)
		}
		wrapped = true
	}
	name, err := storageName(up.Filename)
	if err != nil {
		return nil, fmt.Errorf("storage name: %w: %v", errs.ErrStorage, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("store %s: %w", up.Filename, err)
	}
	if err := s.blobs.Put(ctx, name, ct); err != nil {
		return nil, storageErr("write blob", err)
	}
	rec := &model.FileRecord{
		ID:               id,
		Filename:         name,
		OriginalFilename: filepath.Base(up.Filename),
		ContentType:      up.ContentType,
		SizeBytes:        int64(len(up.Data)),
		StoragePath:      name,
		OwnerID:          up.OwnerID,
		UploadedAt:       time.Now().UTC(),
		Checksum:         sum,
		Algorithm:        alg,
		KeyMaterial:      keyMaterial,
		KeyWrapped:       wrapped,
		Metadata:         up.Metadata,
	}
	if err := s.files.Create(ctx, rec); err != nil {
		s.discardBlob(ctx, name)
		return nil, storageErr("save record", err)
	}

	s.log.Info("file stored",
		zap.String("file_id", id.String()),
		zap.String("owner_id", up.OwnerID),
		zap.Int64("size", rec.SizeBytes),
		zap.String("algorithm", string(alg)))
	return rec, nil
}

// discardBlob removes a blob written by a failed Store. It runs detached from
// the request deadline.
func (s *FileServiceImpl) discardBlob(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.log.Error("orphan blob cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *FileServiceImpl) Load(ctx context.Context, id uuid.UUID) ([]byte, *model.FileRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, nil, storageErr("get record", err)
	}
	data, err := s.blobs.Get(ctx, rec.StoragePath)
	if err != nil {
		return nil, nil, storageErr("read blob", err)
	}
	key := rec.KeyMaterial
	if rec.KeyWrapped {
		if s.opts.MasterKey == nil {
			return nil, nil, fmt.Errorf("file %s: key is wrapped but no master key is configured: %w", id, errs.ErrDecryption)
		}
		key, err = crypto.UnwrapKey(s.opts.MasterKey, key, id.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("unwrap key: %w: %v", errs.ErrDecryption, err)
		}
	}
	plain, err := s.engine.Decrypt(data, rec.Algorithm, key)
	if err != nil {
		return nil, nil, err
	}
	if s.opts.VerifyChecksum && s.engine.Checksum(plain) != rec.Checksum {
		s.log.Warn("checksum mismatch", zap.String("file_id", id.String()))
		return nil, nil, fmt.Errorf("file %s: %w", id, errs.ErrChecksumMismatch)
	}
	return plain, rec, nil
}

// Delete removes the blob, then the record, then room references. A record
// that is already gone still triggers room cleanup before ErrNotFound.
func (s *FileServiceImpl) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec, err := s.files.Get(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		if rerr := s.unshare(ctx, id); rerr != nil {
			return rerr
		}
		return errs.ErrNotFound
	}
	if err != nil {
		return storageErr("get record", err)
	}
	if err := s.blobs.Delete(ctx, rec.StoragePath); err != nil {
		return storageErr("delete blob", err)
	}
	if err := s.files.Delete(ctx, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return storageErr("delete record", err)
	}
	if err := s.unshare(ctx, id); err != nil {
		return err
	}
	s.log.Info("file deleted", zap.String("file_id", id.String()), zap.String("owner_id", rec.OwnerID))
	return nil
}

func (s *FileServiceImpl) unshare(ctx context.Context, id uuid.UUID) error {
	if s.rooms == nil {
		return nil
	}
	if err := s.rooms.RemoveFileEverywhere(ctx, id); err != nil {
		return fmt.Errorf("unshare %s: %w", id, err)
	}
	return nil
}

func (s *FileServiceImpl) HasAccess(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return false, storageErr("get record", err)
	}
	if rec.OwnerID == userID {
		return true, nil
	}
	if s.rooms == nil {
		return false, nil
	}
	return s.rooms.CanAccessFile(ctx, id, userID)
}

func (s *FileServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.FileRecord, error) {
	rec, err := s.files.Get(ctx, id)
	if err != nil {
		return nil, storageErr("get record", err)
	}
	return rec, nil
}

func (s *FileServiceImpl) ListByOwner(ctx context.Context, ownerID string) ([]model.FileRecord, error) {
	out, err := s.files.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return out, nil
}

func (s *FileServiceImpl) Search(ctx context.Context, ownerID, query string) ([]model.FileRecord, error) {
	if strings.TrimSpace(query) == "" {
		return s.ListByOwner(ctx, ownerID)
	}
	out, err := s.files.SearchByName(ctx, ownerID, query)
	if err != nil {
		return nil, storageErr("search", err)
	}
	return out, nil
}
