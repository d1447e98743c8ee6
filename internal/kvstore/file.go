package kvstore

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const indexFile = "store.index"

// FileStore is a directory-backed Store. Each value lives in its own file
// named by the xxhash of its key; a gob-encoded index maps keys to files so
// Keys does not have to read every value.
type FileStore struct {
	basePath string

	index map[string]*fileEntry

	mu     sync.RWMutex
	closed bool
}

// fileEntry represents an entry in the store index
type fileEntry struct {
	Key      string
	FileName string
	Size     int64
	Modified time.Time
}

// NewFileStore opens (or creates) a file store rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("file store requires a directory path")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fs := &FileStore{
		basePath: basePath,
		index:    make(map[string]*fileEntry),
	}

	// A missing or unreadable index starts the store empty; orphaned value
	// files are overwritten as keys are rewritten.
	if err := fs.loadIndex(); err != nil {
		fs.index = make(map[string]*fileEntry)
	}

	return fs, nil
}

// Get retrieves a value from disk.
func (fs *FileStore) Get(key string) (string, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return "", false, ErrClosed
	}

	entry, ok := fs.index[key]
	if !ok {
		return "", false, nil
	}

	data, err := os.ReadFile(fs.filePath(entry.FileName))
	if err != nil {
		if os.IsNotExist(err) {
			// File vanished underneath us, drop it from the index
			delete(fs.index, key)
			_ = fs.saveIndex()
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}

	return string(data), true, nil
}

// Set writes a value to disk, replacing any previous value.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrClosed
	}

	name := fs.fileName(key)
	if err := fs.writeFile(fs.filePath(name), []byte(value)); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}

	fs.index[key] = &fileEntry{
		Key:      key,
		FileName: name,
		Size:     int64(len(value)),
		Modified: time.Now(),
	}

	return fs.saveIndex()
}

// Remove deletes a value from disk.
func (fs *FileStore) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrClosed
	}

	entry, ok := fs.index[key]
	if !ok {
		return nil
	}

	if err := os.Remove(fs.filePath(entry.FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	delete(fs.index, key)

	return fs.saveIndex()
}

// Keys returns all keys in the index.
func (fs *FileStore) Keys() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(fs.index))
	for key := range fs.index {
		keys = append(keys, key)
	}
	return keys, nil
}

// Size returns the on-disk size of the value stored under key.
func (fs *FileStore) Size(key string) (int64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return 0, ErrClosed
	}

	entry, ok := fs.index[key]
	if !ok {
		return 0, nil
	}
	return entry.Size, nil
}

// Close saves the index and releases the store.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true
	return fs.saveIndex()
}

func (fs *FileStore) fileName(key string) string {
	// Collisions between distinct keys would overwrite each other, so the
	// key length is folded into the name alongside the 64-bit hash.
	return strconv.FormatUint(xxhash.Sum64String(key), 16) + "-" + strconv.Itoa(len(key)) + ".val"
}

func (fs *FileStore) filePath(name string) string {
	return filepath.Join(fs.basePath, name)
}

func (fs *FileStore) writeFile(path string, data []byte) error {
	// Write to temp file first, then rename (atomic on most systems)
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func (fs *FileStore) loadIndex() error {
	file, err := os.Open(fs.filePath(indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No index file yet
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&fs.index)
}

func (fs *FileStore) saveIndex() error {
	indexPath := fs.filePath(indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(fs.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}
