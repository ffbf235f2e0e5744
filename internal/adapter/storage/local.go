package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dbackup/dbackup/internal/domain"
)

// LocalAdapter stores artifacts under a base directory on the engine
// host. Remote paths may contain subdirectories (one per job).
type LocalAdapter struct{}

func NewLocal() *LocalAdapter {
	return &LocalAdapter{}
}

func (l *LocalAdapter) ID() string { return "local" }

func (l *LocalAdapter) Validate(cfg domain.Settings) error {
	if cfg["base_path"] == "" {
		return domain.NewConfigurationError("local: base_path is required")
	}
	return nil
}

func (l *LocalAdapter) resolve(cfg domain.Settings, remotePath string) string {
	return filepath.Join(cfg["base_path"], filepath.FromSlash(remotePath))
}

func (l *LocalAdapter) Upload(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	destPath := l.resolve(cfg, remotePath)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	return copyFile(localPath, destPath)
}

func (l *LocalAdapter) Download(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	return copyFile(l.resolve(cfg, remotePath), localPath)
}

func (l *LocalAdapter) Read(ctx context.Context, cfg domain.Settings, remotePath string) ([]byte, error) {
	content, err := os.ReadFile(l.resolve(cfg, remotePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

func (l *LocalAdapter) List(ctx context.Context, cfg domain.Settings, prefix string) ([]domain.Entry, error) {
	base := cfg["base_path"]

	var entries []domain.Entry
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == base {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, domain.Entry{
			Name:         name,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return entries, nil
}

func (l *LocalAdapter) Delete(ctx context.Context, cfg domain.Settings, remotePath string) error {
	if err := os.Remove(l.resolve(cfg, remotePath)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func copyFile(sourcePath, destPath string) error {
	source, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := dest.ReadFrom(source); err != nil {
		return fmt.Errorf("failed to copy: %w", err)
	}
	return nil
}
