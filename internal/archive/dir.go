package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

var _ Archiver = (*DirArchive)(nil)

// DirArchive writes reports under a local directory.
type DirArchive struct {
	root   string
	prefix string
}

func NewDirArchive(root, prefix string) (*DirArchive, error) {
	if root == "" {
		return nil, fmt.Errorf("archive dir is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &DirArchive{root: root, prefix: prefix}, nil
}

func (a *DirArchive) Store(ctx context.Context, scanID string, pdf []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := Key(a.prefix, scanID)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(a.root, filepath.FromSlash(key))
	if err := atomicWriteFile(dst, pdf, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

// atomicWriteFile writes through a temp file in the target directory and
// renames it into place, so readers never see a partial PDF.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return nil
}
