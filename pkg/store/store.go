// Package store implements the content-addressed save step: files are named
// by the SHA-256 digest of their bytes, so identical content downloaded from
// different URLs is recognized as a duplicate.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store writes digest-named files into destination directories. The
// existence check and the write are serialized per directory, so concurrent
// workers de-duplicate safely.
type Store struct {
	mu   sync.Mutex
	dirs map[string]*sync.Mutex
}

// New creates a Store.
func New() *Store {
	return &Store{
		dirs: make(map[string]*sync.Mutex),
	}
}

// Digest returns the lowercase hex SHA-256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save writes data as <digest><ext> under dir, creating the directory if
// needed. When a file whose stem exactly matches the digest already exists
// in dir, nothing is written and duplicate is true. The returned path is the
// file's resolved location either way.
func (s *Store) Save(dir, digest, ext string, data []byte) (path string, duplicate bool, err error) {
	lock := s.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	path = filepath.Join(dir, digest+ext)

	existing, err := findByDigest(dir, digest)
	if err != nil {
		return "", false, err
	}
	if existing != "" {
		return filepath.Join(dir, existing), true, nil
	}

	if err := writeAtomic(path, data); err != nil {
		return "", false, err
	}
	return path, false, nil
}

// findByDigest returns the name of a file in dir whose stem is exactly the
// digest, or "" when none exists.
func findByDigest(dir, digest string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if stem == digest {
			return name, nil
		}
	}
	return "", nil
}

// writeAtomic writes to a temporary file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	_, werr := out.Write(data)
	cerr := out.Close()
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file data: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", cerr)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func (s *Store) dirLock(dir string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.dirs[dir]
	if !ok {
		lock = &sync.Mutex{}
		s.dirs[dir] = lock
	}
	return lock
}
