// Package local implements filesystem persistence helpers: a blob store for
// debug artifacts and an atomic file replace used by the history store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is created on demand.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore keeps artifacts under one directory.
type BlobStore struct {
	root string
}

// New prepares the base directory.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("dump directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create dump directory: %w", err)
	}
	return &BlobStore{root: filepath.Clean(root)}, nil
}

// PutObject replaces the file at name and returns a file:// URI, so each
// service keeps only its latest dump.
func (s *BlobStore) PutObject(_ context.Context, name string, _ string, data io.Reader) (string, error) {
	target, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create dump subdirectory: %w", err)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	if err := WriteFileAtomic(target, body, 0o600); err != nil {
		return "", err
	}
	return "file://" + target, nil
}

// resolve joins name under the root and rejects anything that escapes it.
func (s *BlobStore) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("object name is required")
	}
	target := filepath.Join(s.root, name)
	rel, err := filepath.Rel(s.root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object name %q escapes the dump directory", name)
	}
	return target, nil
}
