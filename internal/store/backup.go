package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/noot-app/foods-cleanup/internal/types"
)

// BackupTimeFormat is the UTC timestamp embedded in backup file names
const BackupTimeFormat = "20060102T150405Z"

// BackupMetadata is written next to every backup as <backup>.json
type BackupMetadata struct {
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	RunID     string    `json:"run_id,omitempty"`
}

// BackupPath returns <dir>/<name>_backup_<timestamp><ext> for the database at src.
// An empty dir means the database's own directory.
func BackupPath(src, dir string, at time.Time) string {
	if dir == "" {
		dir = filepath.Dir(src)
	}
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", name, at.UTC().Format(BackupTimeFormat), ext))
}

// Backup copies the whole database to a timestamped file and records its checksum.
// It must not be called inside a transaction.
func (s *SQLite) Backup(ctx context.Context, dir, runID string) (string, error) {
	start := time.Now()
	if s.tx != nil {
		return "", types.NewStoreIOError("backup", errors.New("backup inside a transaction"))
	}

	// Flush anything held in a write-ahead log into the main file before copying
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		s.log.Debug("wal checkpoint skipped", "error", err)
	}

	now := s.now()
	dst := BackupPath(s.path, dir, now)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", types.NewStoreIOError("backup", fmt.Errorf("failed to create backup directory: %w", err))
	}

	// Two runs in the same second must not overwrite each other's backup
	ext := filepath.Ext(dst)
	stem := strings.TrimSuffix(dst, ext)
	for i := 2; fileExists(dst); i++ {
		dst = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}

	if err := copyFile(s.path, dst); err != nil {
		os.Remove(dst)
		return "", types.NewStoreIOError("backup", fmt.Errorf("failed to copy database: %w", err))
	}

	sha, err := computeSHA256(dst)
	if err != nil {
		return "", types.NewStoreIOError("backup", fmt.Errorf("failed to compute SHA256: %w", err))
	}
	stat, err := os.Stat(dst)
	if err != nil {
		return "", types.NewStoreIOError("backup", fmt.Errorf("failed to stat backup: %w", err))
	}

	meta := &BackupMetadata{
		Source:    s.path,
		Path:      dst,
		SHA256:    sha,
		Size:      stat.Size(),
		CreatedAt: now.UTC(),
		RunID:     runID,
	}
	if err := saveMetadata(dst+".json", meta); err != nil {
		return "", types.NewStoreIOError("backup", fmt.Errorf("failed to save backup metadata: %w", err))
	}

	s.log.Info("💾 Backup written", "path", dst, "size", stat.Size(), "sha256", sha[:16]+"...", "duration", time.Since(start))
	return dst, nil
}

// LoadBackupMetadata reads the metadata file written next to a backup
func LoadBackupMetadata(backupPath string) (*BackupMetadata, error) {
	data, err := os.ReadFile(backupPath + ".json")
	if err != nil {
		return nil, err
	}

	var meta BackupMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func saveMetadata(path string, meta *BackupMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyFile copies a file from src to dst, failing if dst already exists
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		return err
	}
	return dstFile.Close()
}

// computeSHA256 computes the SHA256 hash of a file
func computeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
