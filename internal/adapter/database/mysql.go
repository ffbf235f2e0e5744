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

type MySQLAdapter struct{}

func NewMySQL() *MySQLAdapter {
	return &MySQLAdapter{}
}

func (m *MySQLAdapter) ID() string      { return "mysql" }
func (m *MySQLAdapter) FileExt() string { return ".sql" }

func (m *MySQLAdapter) Validate(cfg domain.Settings) error {
	for _, key := range []string{"host", "port", "username", "database"} {
		if cfg[key] == "" {
			return domain.NewConfigurationError("mysql: %s is required", key)
		}
	}
	return nil
}

func (m *MySQLAdapter) connArgs(cfg domain.Settings, override *domain.Credentials) []string {
	username, password := cfg["username"], cfg["password"]
	if override != nil {
		username, password = override.Username, override.Password
	}
	return []string{
		"--host=" + cfg["host"],
		"--port=" + cfg["port"],
		"--user=" + username,
		"--password=" + password,
	}
}

func (m *MySQLAdapter) Test(ctx context.Context, cfg domain.Settings) (domain.TestResult, error) {
	args := append(m.connArgs(cfg, nil), "--silent", "--skip-column-names", "-e", "SELECT VERSION()")
	cmd := exec.CommandContext(ctx, "mysql", args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return domain.TestResult{Success: false, Message: strings.TrimSpace(string(output))},
			&domain.ConnectivityError{Adapter: m.ID(), Err: err}
	}

	// "8.0.36-0ubuntu0.22.04.1" -> "8.0.36"
	version := strings.TrimSpace(string(output))
	if i := strings.IndexByte(version, '-'); i > 0 {
		version = version[:i]
	}
	return domain.TestResult{Success: true, Version: version}, nil
}

func (m *MySQLAdapter) PrepareRestore(ctx context.Context, cfg domain.Settings) (bool, error) {
	result, err := m.Test(ctx, cfg)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (m *MySQLAdapter) Dump(ctx context.Context, cfg domain.Settings, destPath string) (domain.DumpResult, error) {
	args := append(m.connArgs(cfg, nil),
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
		"--result-file="+destPath,
		cfg["database"],
	)
	cmd := exec.CommandContext(ctx, "mysqldump", args...)

	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.DumpResult{Success: false, Logs: logs},
			fmt.Errorf("mysqldump failed: %w, output: %s", err, string(output))
	}
	return domain.DumpResult{Success: true, Logs: logs}, nil
}

func (m *MySQLAdapter) Restore(ctx context.Context, cfg domain.Settings, sourcePath string, opts domain.RestoreOptions) (domain.RestoreResult, error) {
	target := opts.TargetDatabase
	if target == "" {
		target = cfg["database"]
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return domain.RestoreResult{Success: false, Err: err},
			fmt.Errorf("failed to open dump: %w", err)
	}
	defer source.Close()

	args := append(m.connArgs(cfg, opts.Privileged), target)
	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Stdin = source

	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.RestoreResult{Success: false, Logs: logs, Err: err},
			fmt.Errorf("mysql restore failed: %w, output: %s", err, string(output))
	}
	return domain.RestoreResult{Success: true, Logs: logs}, nil
}

// LooksValid checks for the mysqldump header comment.
func (m *MySQLAdapter) LooksValid(r io.Reader) bool {
	head := make([]byte, 512)
	n, _ := io.ReadFull(r, head)
	head = head[:n]
	if bytes.Contains(head, []byte("MySQL dump")) {
		return true
	}
	return bytes.Contains(head, []byte("-- Host:"))
}

func splitLines(output []byte) []string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}
