// Package local implements a filesystem payload sink.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the filesystem payload sink.
type Config struct {
	// BaseDir is the root directory where payloads are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// PayloadSink writes version payloads under a base directory and hands
// back file:// locations the content store records.
type PayloadSink struct {
	baseDir string
}

// New creates a filesystem-backed payload sink. The base directory is
// created if missing and verified writable up front.
func New(cfg Config) (*PayloadSink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &PayloadSink{baseDir: cfg.BaseDir}, nil
}

// Put writes data to path under the base directory and returns a
// file:// location.
func (s *PayloadSink) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return "file://" + fullPath, nil
}

// Delete removes the payload at a previously returned location.
// Deleting an absent payload is a no-op.
func (s *PayloadSink) Delete(_ context.Context, location string) error {
	path, ok := strings.CutPrefix(location, "file://")
	if !ok {
		return fmt.Errorf("not a filesystem location: %s", location)
	}
	cleanBase := filepath.Clean(s.baseDir)
	cleanPath := filepath.Clean(path)
	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("location outside base directory: %s", location)
	}
	if err := os.Remove(cleanPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete payload: %w", err)
	}
	return nil
}

// resolve joins path under the base directory and rejects traversal.
func (s *PayloadSink) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)
	cleanBase := filepath.Clean(s.baseDir)
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFull, nil
}
