package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// nsFileExt is the extension of per-namespace store files.
const nsFileExt = ".cbor"

// FileStore persists each namespace as a CBOR map in its own file under a
// base directory. Writes go through a temp file and rename so a crash never
// leaves a half-written namespace behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a file store rooted at dir. The directory is created
// on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the base directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) nsPath(namespace string) string {
	return filepath.Join(s.dir, namespace+nsFileExt)
}

// loadNS reads a namespace file. A missing file is an empty namespace.
func (s *FileStore) loadNS(namespace string) (map[string][]byte, error) {
	data, err := os.ReadFile(s.nsPath(namespace))
	if os.IsNotExist(err) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read namespace %s: %w", namespace, err)
	}

	entries := make(map[string][]byte)
	if len(data) == 0 {
		return entries, nil
	}
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: namespace %s: %v", ErrInvalidRecord, namespace, err)
	}
	return entries, nil
}

func (s *FileStore) saveNS(namespace string, entries map[string][]byte) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	if len(entries) == 0 {
		err := os.Remove(s.nsPath(namespace))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	data, err := encMode.Marshal(entries)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, namespace+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.nsPath(namespace))
}

// Put stores value under (namespace, key).
func (s *FileStore) Put(namespace, key string, value []byte) error {
	if err := validName(namespace, key); err != nil {
		return err
	}
	if strings.ContainsAny(namespace, `/\`) {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadNS(namespace)
	if err != nil {
		return err
	}
	entries[key] = append([]byte(nil), value...)
	return s.saveNS(namespace, entries)
}

// Get returns the value stored under (namespace, key).
func (s *FileStore) Get(namespace, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadNS(namespace)
	if err != nil {
		return nil, err
	}
	v, ok := entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Remove deletes (namespace, key).
func (s *FileStore) Remove(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadNS(namespace)
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.saveNS(namespace, entries)
}

// Exists reports whether (namespace, key) holds a value.
// Unreadable namespaces report false.
func (s *FileStore) Exists(namespace, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.loadNS(namespace)
	if err != nil {
		return false
	}
	_, ok := entries[key]
	return ok
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
