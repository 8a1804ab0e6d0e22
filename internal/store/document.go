package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Document is a JSON file holding a single value of type T.
type Document[T any] struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewDocument returns a document rooted at path.
func NewDocument[T any](path string, logger *zap.Logger) *Document[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document[T]{path: path, logger: logger}
}

// Path returns the file location.
func (d *Document[T]) Path() string {
	return d.path
}

// Read returns the decoded value. Missing and corrupt files yield the zero
// value; found reports whether a valid document was read.
func (d *Document[T]) Read() (value T, found bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("read document failed; starting empty", zap.String("path", d.path), zap.Error(err))
		}
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		d.logger.Warn("corrupt document; starting empty", zap.String("path", d.path), zap.Error(err))
		var zero T
		return zero, false
	}
	return value, true
}

// Write atomically replaces the document with value.
func (d *Document[T]) Write(value T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	return writeAtomic(d.path, data)
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	f, err := os.Open(dir) // #nosec G304 -- directory of a configured path.
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
