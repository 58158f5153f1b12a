// Package storage is the file store documents live in. Only document
// ingest writes here; every other service reads by reference.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store keeps document bytes on the local filesystem under opaque
// references.
type Store struct {
	dir string
}

// NewStore creates the backing directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "could not create storage directory")
	}
	return &Store{dir: dir}, nil
}

// Save streams content into the store and returns its reference. The
// bytes land in a temporary file first and are renamed into place, so
// a partially written file is never visible under a reference.
func (s *Store) Save(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", 0, errors.Wrap(err, "could not create temporary file")
	}
	size, err := io.Copy(tmp, r)
	if err != nil {
		if cerr := tmp.Close(); cerr != nil {
			err = errors.Wrap(err, cerr.Error())
		}
		if rerr := os.Remove(tmp.Name()); rerr != nil {
			err = errors.Wrap(err, rerr.Error())
		}
		return "", 0, errors.Wrap(err, "could not persist upload")
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}
	ref := uuid.New().String()
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, ref)); err != nil {
		return "", 0, errors.Wrap(err, "could not finalize upload")
	}
	return ref, size, nil
}

// Open returns a reader over a stored file.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes a stored file. Deleting an absent reference is not an
// error.
func (s *Store) Delete(ref string) error {
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) refPath(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", errors.Errorf("invalid storage reference %q", ref)
	}
	return filepath.Join(s.dir, ref), nil
}
