package bill

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage holds the uploaded receipt images.
type Storage interface {
	// Save writes a file and returns the name it was stored under.
	Save(filename string, data []byte) (string, error)

	// Get reads a stored file.
	Get(filename string) ([]byte, error)

	// Delete removes a stored file.
	Delete(filename string) error
}

// LocalStorage keeps receipt images in a directory on disk.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the image directory if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	if err := os.WriteFile(filepath.Join(l.basePath, filename), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filename, nil
}

func (l *LocalStorage) Get(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filename))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

func (l *LocalStorage) Delete(filename string) error {
	if err := os.Remove(filepath.Join(l.basePath, filename)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
