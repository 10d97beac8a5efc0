package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FSConfig locates the two namespaces on a filesystem.
type FSConfig struct {
	StagingDir   string
	CommittedDir string
}

// FSAssetStore implements AssetStore on an afero filesystem.
type FSAssetStore struct {
	fs        afero.Fs
	cfg       FSConfig
	now       func() time.Time
	nextToken func() string
}

// NewFSAssetStore creates a filesystem-backed asset store.
func NewFSAssetStore(fsys afero.Fs, cfg FSConfig) (*FSAssetStore, error) {
	if cfg.StagingDir == "" || cfg.CommittedDir == "" {
		return nil, errors.New("staging and committed directories are required")
	}
	if filepath.Clean(cfg.StagingDir) == filepath.Clean(cfg.CommittedDir) {
		return nil, errors.New("staging and committed directories must differ")
	}

	gen, err := NewTokenGenerator()
	if err != nil {
		return nil, err
	}

	return &FSAssetStore{
		fs:        fsys,
		cfg:       cfg,
		now:       time.Now,
		nextToken: gen,
	}, nil
}

// Stage writes the upload into the staging directory.
func (s *FSAssetStore) Stage(ctx context.Context, r io.Reader, originalFilename string) (string, error) {
	if err := s.fs.MkdirAll(s.cfg.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: failed to create staging directory: %w", ErrAssetWrite, err)
	}

	name := StagedName(s.nextToken(), s.now(), originalFilename)
	path := filepath.Join(s.cfg.StagingDir, name)

	if err := s.writeFile(path, r); err != nil {
		return "", fmt.Errorf("%w: failed to write %s: %w", ErrAssetWrite, name, err)
	}

	return name, nil
}

// Discard removes a staged asset if present.
func (s *FSAssetStore) Discard(ctx context.Context, stagedName string) error {
	if err := ValidateName(stagedName); err != nil {
		return err
	}
	return s.remove(filepath.Join(s.cfg.StagingDir, stagedName))
}

// Promote moves a staged asset into the committed directory. When rename is not
// possible (for example across volumes) the content is copied and the source removed.
func (s *FSAssetStore) Promote(ctx context.Context, stagedName, committedName string) error {
	if err := ValidateName(stagedName); err != nil {
		return err
	}
	if err := ValidateName(committedName); err != nil {
		return err
	}

	src := filepath.Join(s.cfg.StagingDir, stagedName)
	dst := filepath.Join(s.cfg.CommittedDir, committedName)

	if _, err := s.fs.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: staged %s", ErrAssetNotFound, stagedName)
		}
		return fmt.Errorf("failed to stat staged asset: %w", err)
	}

	if err := s.EnsureCommitted(ctx); err != nil {
		return err
	}

	err := s.fs.Rename(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: staged %s", ErrAssetNotFound, stagedName)
	}

	if err := s.copyFile(src, dst); err != nil {
		_ = s.fs.Remove(dst)
		return fmt.Errorf("%w: failed to move %s: %w", ErrAssetWrite, stagedName, err)
	}

	// The asset must end up in exactly one area
	if err := s.remove(src); err != nil {
		_ = s.fs.Remove(dst)
		return err
	}
	return nil
}

// Sweep removes staged assets created before cutoff.
func (s *FSAssetStore) Sweep(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.cfg.StagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list staging directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		created, ok := NameTime(entry.Name())
		if !ok {
			created = entry.ModTime()
		}
		if !created.Before(cutoff) {
			continue
		}

		if err := s.remove(filepath.Join(s.cfg.StagingDir, entry.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, entry.Name())
	}

	return removed, nil
}

// EnsureCommitted creates the committed directory if needed.
func (s *FSAssetStore) EnsureCommitted(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.cfg.CommittedDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create committed directory: %w", ErrAssetWrite, err)
	}
	return nil
}

// Has reports whether a committed asset exists.
func (s *FSAssetStore) Has(ctx context.Context, committedName string) (bool, error) {
	if err := ValidateName(committedName); err != nil {
		return false, err
	}

	_, err := s.fs.Stat(filepath.Join(s.cfg.CommittedDir, committedName))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat committed asset: %w", err)
}

// Delete removes a committed asset if present.
func (s *FSAssetStore) Delete(ctx context.Context, committedName string) error {
	if err := ValidateName(committedName); err != nil {
		return err
	}
	return s.remove(filepath.Join(s.cfg.CommittedDir, committedName))
}

// Close is a no-op for the filesystem backend.
func (s *FSAssetStore) Close() error {
	return nil
}

func (s *FSAssetStore) remove(path string) error {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FSAssetStore) writeFile(path string, r io.Reader) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = s.fs.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		_ = s.fs.Remove(path)
		return err
	}
	return nil
}

func (s *FSAssetStore) copyFile(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return s.writeFile(dst, in)
}
