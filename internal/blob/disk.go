package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/and161185/sharevault/internal/errs"
)

// Disk keeps each blob as one file under Dir.
type Disk struct {
	dir string
}

// NewDisk creates dir if needed and returns a disk store rooted there.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w: %v", errs.ErrStorage, err)
	}
	return &Disk{dir: dir}, nil
}

// Put writes data to a temp file and renames it into place.
func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorage, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = ctx.Err()
	}
	if werr == nil {
		werr = os.Rename(tmp.Name(), filepath.Join(d.dir, key))
	}
	if werr != nil {
		_ = os.Remove(tmp.Name())
		if ctx.Err() != nil {
			return werr
		}
		return fmt.Errorf("write %s: %w: %v", key, errs.ErrStorage, werr)
	}
	return nil
}

func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(d.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", key, errs.ErrStorage, err)
	}
	return b, nil
}

func (d *Disk) Delete(ctx context.Context, key string) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.dir, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w: %v", key, errs.ErrStorage, err)
	}
	return nil
}
