package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/dbackup/dbackup/internal/domain"
)

// GDriveAdapter stores artifacts in a Google Drive folder using a
// service-account credentials file. Drive has no real directories, so
// the remote path's slashes are flattened into the stored file name.
type GDriveAdapter struct{}

func NewGDrive() *GDriveAdapter {
	return &GDriveAdapter{}
}

func (g *GDriveAdapter) ID() string { return "gdrive" }

func (g *GDriveAdapter) Validate(cfg domain.Settings) error {
	if cfg["credentials_file"] == "" {
		return domain.NewConfigurationError("gdrive: credentials_file is required")
	}
	if cfg["folder_id"] == "" {
		return domain.NewConfigurationError("gdrive: folder_id is required")
	}
	return nil
}

func (g *GDriveAdapter) service(ctx context.Context, cfg domain.Settings) (*drive.Service, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(cfg["credentials_file"]))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return service, nil
}

func flatten(remotePath string) string {
	return strings.ReplaceAll(remotePath, "/", "__")
}

func unflatten(name string) string {
	return strings.ReplaceAll(name, "__", "/")
}

func (g *GDriveAdapter) Upload(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	service, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    flatten(remotePath),
		Parents: []string{cfg["folder_id"]},
	}

	_, err = service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}
	return nil
}

func (g *GDriveAdapter) findFile(ctx context.Context, service *drive.Service, cfg domain.Settings, remotePath string) (*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		cfg["folder_id"], flatten(remotePath))

	fileList, err := service.Files.List().
		Q(query).
		Fields("files(id, name, size, createdTime)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to find file: %w", err)
	}
	if len(fileList.Files) == 0 {
		return nil, nil
	}
	return fileList.Files[0], nil
}

func (g *GDriveAdapter) Download(ctx context.Context, cfg domain.Settings, remotePath, localPath string) error {
	service, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}

	file, err := g.findFile(ctx, service, cfg, remotePath)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("file not found: %s", remotePath)
	}

	resp, err := service.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download from gdrive: %w", err)
	}
	defer resp.Body.Close()

	dest, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return fmt.Errorf("failed to write download: %w", err)
	}
	return nil
}

func (g *GDriveAdapter) Read(ctx context.Context, cfg domain.Settings, remotePath string) ([]byte, error) {
	service, err := g.service(ctx, cfg)
	if err != nil {
		return nil, err
	}

	file, err := g.findFile(ctx, service, cfg, remotePath)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, nil
	}

	resp, err := service.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to read from gdrive: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (g *GDriveAdapter) List(ctx context.Context, cfg domain.Settings, prefix string) ([]domain.Entry, error) {
	service, err := g.service(ctx, cfg)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", cfg["folder_id"])
	var entries []domain.Entry
	pageToken := ""
	for {
		call := service.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, size, createdTime)").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		fileList, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		for _, file := range fileList.Files {
			name := unflatten(file.Name)
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			created, _ := time.Parse(time.RFC3339, file.CreatedTime)
			entries = append(entries, domain.Entry{
				Name:         name,
				Size:         file.Size,
				LastModified: created,
			})
		}

		pageToken = fileList.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return entries, nil
}

func (g *GDriveAdapter) Delete(ctx context.Context, cfg domain.Settings, remotePath string) error {
	service, err := g.service(ctx, cfg)
	if err != nil {
		return err
	}

	file, err := g.findFile(ctx, service, cfg, remotePath)
	if err != nil {
		return err
	}
	if file == nil {
		return fmt.Errorf("file not found: %s", remotePath)
	}

	if err := service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
