package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/avflow/errors"
)

const (
	maxGraphSize = 1 << 20 // 1MB is far beyond any hand written graph
	maxPathLen   = 4096
)

var graphExtensions = []string{".yaml", ".yml", ".json"}

// validateGraphPath rejects empty or overlong paths, relative paths leaving
// the working directory, and unknown extensions.
func validateGraphPath(path string) error {
	if path == "" {
		return errors.New("empty graph path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot get working directory: %w", err)
		}
		rel, err := filepath.Rel(cwd, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range graphExtensions {
		if ext == e {
			return nil
		}
	}
	return fmt.Errorf("only %s graph files allowed: %s", strings.Join(graphExtensions, ", "), path)
}

// safeReadFile reads a graph file after validating its path, size and type.
func safeReadFile(path string) ([]byte, error) {
	if err := validateGraphPath(path); err != nil {
		return nil, fmt.Errorf("invalid graph path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat graph file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxGraphSize {
		return nil, fmt.Errorf("graph file too large: %d bytes > %d", info.Size(), maxGraphSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read graph file: %w", err)
	}
	return data, nil
}
