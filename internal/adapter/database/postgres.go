package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/dbackup/dbackup/internal/domain"
)

// pgMagic is the header of a pg_dump custom-format archive.
var pgMagic = []byte("PGDMP")

type PostgresAdapter struct{}

func NewPostgres() *PostgresAdapter {
	return &PostgresAdapter{}
}

func (p *PostgresAdapter) ID() string      { return "postgres" }
func (p *PostgresAdapter) FileExt() string { return ".dump" }

func (p *PostgresAdapter) Validate(cfg domain.Settings) error {
	for _, key := range []string{"host", "port", "username", "database"} {
		if cfg[key] == "" {
			return domain.NewConfigurationError("postgres: %s is required", key)
		}
	}
	return nil
}

func (p *PostgresAdapter) env(cfg domain.Settings, override *domain.Credentials) []string {
	password := cfg["password"]
	if override != nil {
		password = override.Password
	}
	return append(os.Environ(), "PGPASSWORD="+password)
}

func (p *PostgresAdapter) username(cfg domain.Settings, override *domain.Credentials) string {
	if override != nil {
		return override.Username
	}
	return cfg["username"]
}

func (p *PostgresAdapter) Test(ctx context.Context, cfg domain.Settings) (domain.TestResult, error) {
	cmd := exec.CommandContext(ctx, "psql",
		"--host="+cfg["host"],
		"--port="+cfg["port"],
		"--username="+cfg["username"],
		"--dbname=postgres",
		"--tuples-only", "--no-align",
		"-c", "SHOW server_version",
	)
	cmd.Env = p.env(cfg, nil)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return domain.TestResult{Success: false, Message: strings.TrimSpace(string(output))},
			&domain.ConnectivityError{Adapter: p.ID(), Err: err}
	}

	// "16.4 (Debian 16.4-1)" -> "16.4"
	version := strings.TrimSpace(string(output))
	if i := strings.IndexByte(version, ' '); i > 0 {
		version = version[:i]
	}
	return domain.TestResult{Success: true, Version: version}, nil
}

func (p *PostgresAdapter) PrepareRestore(ctx context.Context, cfg domain.Settings) (bool, error) {
	result, err := p.Test(ctx, cfg)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (p *PostgresAdapter) Dump(ctx context.Context, cfg domain.Settings, destPath string) (domain.DumpResult, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"--host="+cfg["host"],
		"--port="+cfg["port"],
		"--username="+cfg["username"],
		"--format=custom",
		"--file="+destPath,
		cfg["database"],
	)
	cmd.Env = p.env(cfg, nil)

	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.DumpResult{Success: false, Logs: logs},
			fmt.Errorf("pg_dump failed: %w, output: %s", err, string(output))
	}
	return domain.DumpResult{Success: true, Logs: logs}, nil
}

func (p *PostgresAdapter) Restore(ctx context.Context, cfg domain.Settings, sourcePath string, opts domain.RestoreOptions) (domain.RestoreResult, error) {
	target := opts.TargetDatabase
	if target == "" {
		target = cfg["database"]
	}

	cmd := exec.CommandContext(ctx, "pg_restore",
		"--host="+cfg["host"],
		"--port="+cfg["port"],
		"--username="+p.username(cfg, opts.Privileged),
		"--dbname="+target,
		"--clean", "--if-exists",
		"--no-owner",
		sourcePath,
	)
	cmd.Env = p.env(cfg, opts.Privileged)

	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.RestoreResult{Success: false, Logs: logs, Err: err},
			fmt.Errorf("pg_restore failed: %w, output: %s", err, string(output))
	}
	return domain.RestoreResult{Success: true, Logs: logs}, nil
}

// LooksValid accepts pg_dump custom archives and plain SQL dumps.
func (p *PostgresAdapter) LooksValid(r io.Reader) bool {
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	if bytes.HasPrefix(head, pgMagic) {
		return true
	}
	return bytes.Contains(head, []byte("PostgreSQL database dump"))
}
