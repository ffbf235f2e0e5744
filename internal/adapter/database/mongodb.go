package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/dbackup/dbackup/internal/domain"
)

// gzipMagic opens every mongodump archive we produce (--archive --gzip).
var gzipMagic = []byte{0x1f, 0x8b}

type MongoDBAdapter struct{}

func NewMongoDB() *MongoDBAdapter {
	return &MongoDBAdapter{}
}

func (m *MongoDBAdapter) ID() string      { return "mongodb" }
func (m *MongoDBAdapter) FileExt() string { return ".archive" }

func (m *MongoDBAdapter) Validate(cfg domain.Settings) error {
	for _, key := range []string{"host", "port", "database"} {
		if cfg[key] == "" {
			return domain.NewConfigurationError("mongodb: %s is required", key)
		}
	}
	return nil
}

func (m *MongoDBAdapter) uri(cfg domain.Settings, override *domain.Credentials) string {
	username, password := cfg["username"], cfg["password"]
	if override != nil {
		username, password = override.Username, override.Password
	}

	uri := "mongodb://"
	if username != "" {
		uri += fmt.Sprintf("%s:%s@", username, password)
	}
	uri += fmt.Sprintf("%s:%s/%s", cfg["host"], cfg["port"], cfg["database"])
	if cfg["auth_database"] != "" {
		uri += "?authSource=" + cfg["auth_database"]
	}
	return uri
}

func (m *MongoDBAdapter) Test(ctx context.Context, cfg domain.Settings) (domain.TestResult, error) {
	cmd := exec.CommandContext(ctx, "mongosh", m.uri(cfg, nil),
		"--quiet", "--eval", "db.version()")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return domain.TestResult{Success: false, Message: strings.TrimSpace(string(output))},
			&domain.ConnectivityError{Adapter: m.ID(), Err: err}
	}
	return domain.TestResult{Success: true, Version: strings.TrimSpace(string(output))}, nil
}

func (m *MongoDBAdapter) PrepareRestore(ctx context.Context, cfg domain.Settings) (bool, error) {
	result, err := m.Test(ctx, cfg)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (m *MongoDBAdapter) Dump(ctx context.Context, cfg domain.Settings, destPath string) (domain.DumpResult, error) {
	cmd := exec.CommandContext(ctx, "mongodump",
		"--uri="+m.uri(cfg, nil),
		"--archive="+destPath,
		"--gzip",
	)

	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.DumpResult{Success: false, Logs: logs},
			fmt.Errorf("mongodump failed: %w, output: %s", err, string(output))
	}
	return domain.DumpResult{Success: true, Logs: logs}, nil
}

func (m *MongoDBAdapter) Restore(ctx context.Context, cfg domain.Settings, sourcePath string, opts domain.RestoreOptions) (domain.RestoreResult, error) {
	args := []string{
		"--uri=" + m.uri(cfg, opts.Privileged),
		"--archive=" + sourcePath,
		"--gzip",
		"--drop",
	}
	if opts.TargetDatabase != "" && opts.TargetDatabase != cfg["database"] {
		args = append(args,
			"--nsFrom="+cfg["database"]+".*",
			"--nsTo="+opts.TargetDatabase+".*",
		)
	}

	cmd := exec.CommandContext(ctx, "mongorestore", args...)
	output, err := cmd.CombinedOutput()
	logs := splitLines(output)
	if err != nil {
		return domain.RestoreResult{Success: false, Logs: logs, Err: err},
			fmt.Errorf("mongorestore failed: %w, output: %s", err, string(output))
	}
	return domain.RestoreResult{Success: true, Logs: logs}, nil
}

// LooksValid checks the gzip magic that opens our archives.
func (m *MongoDBAdapter) LooksValid(r io.Reader) bool {
	head := make([]byte, 2)
	if _, err := io.ReadFull(r, head); err != nil {
		return false
	}
	return bytes.Equal(head, gzipMagic)
}
