// Package filestore implements content-addressed asset storage on the
// local filesystem: files are named by their expected digest and written
// atomically so a partially-downloaded file is never mistaken for a
// complete one.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tomekzaw/expo/internal/otaerrors"
)

// internalDirName is the directory holding all content-addressed files.
const internalDirName = ".expo-internal"

// Store roots all content-addressed files under <updatesDir>/.expo-internal.
type Store struct {
	dir string
}

// Open ensures the asset directory exists under updatesDir.
func Open(updatesDir string) (*Store, error) {
	dir := filepath.Join(updatesDir, internalDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, otaerrors.Wrap(otaerrors.DirectoryUnavailable, err, "create asset directory %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Path returns the on-disk path an asset with the given content hash would
// have, whether or not it currently exists.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.dir, hash)
}

// Has reports whether an asset matching hash is already present and
// verified on disk, satisfying invariant 1.
func (s *Store) Has(hash string) bool {
	actual, err := hashFile(s.Path(hash))
	return err == nil && actual == hash
}

// WriteVerified copies from src, verifying its SHA-256 digest equals
// expectedHash, and atomically publishes it to the content-addressed path.
// On a hash mismatch the temp file is removed and DigestMismatch is
// returned; the content-addressed destination is left untouched.
func (s *Store) WriteVerified(src io.Reader, expectedHash string) error {
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".tmp-%s", uuid.NewString()))
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return otaerrors.Wrap(otaerrors.DirectoryUnavailable, err, "create temp asset file")
	}
	defer os.Remove(tmpPath) // no-op once renamed away

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), src); err != nil {
		_ = tmpFile.Close()
		return otaerrors.Wrap(otaerrors.NetworkFailure, err, "download asset body")
	}
	if err := tmpFile.Close(); err != nil {
		return otaerrors.Wrap(otaerrors.DirectoryUnavailable, err, "close temp asset file")
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expectedHash {
		return otaerrors.Errorf(otaerrors.DigestMismatch, "asset digest mismatch: expected %s, got %s", expectedHash, actual)
	}

	if err := os.Rename(tmpPath, s.Path(expectedHash)); err != nil {
		return otaerrors.Wrap(otaerrors.DirectoryUnavailable, err, "publish asset %s", expectedHash)
	}
	return nil
}

// Remove deletes an asset file by hash. Missing files are not an error:
// the Reaper may race with a prior partial cleanup.
func (s *Store) Remove(hash string) error {
	err := os.Remove(s.Path(hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
