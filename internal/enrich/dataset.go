package enrich

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/noot-app/foods-cleanup/internal/config"
)

// Metadata describes the downloaded snapshot
type Metadata struct {
	SHA256       string    `json:"sha256"`
	DownloadedAt time.Time `json:"downloaded_at"`
	ETag         string    `json:"etag,omitempty"`
	Size         int64     `json:"size"`
}

// Dataset keeps a local copy of the Open Food Facts parquet snapshot current
type Dataset struct {
	url          string
	parquetPath  string
	metadataPath string
	lockPath     string
	cfg          *config.Config
	client       *http.Client
	waitTimeout  time.Duration
	log          *slog.Logger
}

// NewDataset creates a dataset manager from the enrichment settings in cfg
func NewDataset(cfg *config.Config, logger *slog.Logger) *Dataset {
	return &Dataset{
		url:          cfg.ParquetURL,
		parquetPath:  cfg.ParquetPath,
		metadataPath: cfg.MetadataPath,
		lockPath:     cfg.LockFile,
		cfg:          cfg,
		client:       &http.Client{Timeout: 30 * time.Minute},
		waitTimeout:  10 * time.Minute,
		log:          logger.With("component", "dataset"),
	}
}

// Path returns the local parquet path
func (d *Dataset) Path() string {
	return d.parquetPath
}

// Ensure makes sure the snapshot exists locally and matches the remote copy
func (d *Dataset) Ensure(ctx context.Context) error {
	start := time.Now()
	d.log.Info("📦 Ensuring dataset is available", "parquet_path", d.parquetPath)

	if _, err := os.Stat(d.parquetPath); err == nil {
		if d.cfg.DisableRemoteCheck {
			d.log.Info("Remote checks disabled, using local dataset", "duration", time.Since(start))
			return nil
		}
		if d.isFresh(ctx) {
			d.log.Info("Dataset is up-to-date", "duration", time.Since(start))
			return nil
		}
	}

	if err := d.downloadWithLock(ctx); err != nil {
		return fmt.Errorf("failed to download dataset: %w", err)
	}

	d.log.Info("Dataset ensured", "duration", time.Since(start))
	return nil
}

// isFresh compares the local metadata against the remote ETag, or size when there is no ETag
func (d *Dataset) isFresh(ctx context.Context) bool {
	local, err := d.loadMetadata()
	if err != nil {
		d.log.Debug("No local metadata found", "error", err)
		return false
	}
	remote, err := d.remoteMetadata(ctx)
	if err != nil {
		d.log.Warn("Failed to verify dataset freshness", "error", err)
		// Keep using the local copy when the remote cannot be reached
		return true
	}

	if remote.ETag != "" && local.ETag != "" {
		return remote.ETag == local.ETag
	}
	return remote.Size == local.Size
}

// remoteMetadata fetches ETag and size with a HEAD request
func (d *Dataset) remoteMetadata(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD request failed with status: %d", resp.StatusCode)
	}
	return &Metadata{ETag: resp.Header.Get("ETag"), Size: resp.ContentLength}, nil
}

func (d *Dataset) downloadWithLock(ctx context.Context) error {
	if d.cfg.IgnoreLock {
		if _, err := os.Stat(d.lockPath); err == nil {
			d.log.Warn("IGNORE_LOCK enabled, removing existing lock file", "lock_path", d.lockPath)
			os.Remove(d.lockPath)
		}
	}

	lockFile, err := acquireLock(d.lockPath)
	if err != nil {
		if !d.cfg.IgnoreLock {
			d.log.Info("Another instance is downloading, waiting", "lock_path", d.lockPath)
			return d.waitForDownload(ctx)
		}
		d.log.Warn("IGNORE_LOCK enabled but still failed to acquire lock, proceeding anyway", "error", err)
	}
	if lockFile != nil {
		defer releaseLock(lockFile, d.lockPath)
	}

	if err := os.MkdirAll(filepath.Dir(d.parquetPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Download next to the target so the final rename stays on one filesystem
	tmpPath := d.parquetPath + ".tmp"
	etag, err := d.download(ctx, tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	sum, size, err := fileDigest(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to compute SHA256: %w", err)
	}
	if err := os.Rename(tmpPath, d.parquetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move dataset into place: %w", err)
	}

	meta := &Metadata{SHA256: sum, DownloadedAt: time.Now().UTC(), ETag: etag, Size: size}
	if err := d.saveMetadata(meta); err != nil {
		d.log.Warn("Failed to save metadata", "error", err)
	}

	d.log.Info("💾 Dataset downloaded", "size", size, "sha256", sum[:16]+"...")
	return nil
}

// download writes the remote file to path and returns its ETag
func (d *Dataset) download(ctx context.Context, path string) (string, error) {
	start := time.Now()
	d.log.Info("Downloading dataset", "url", d.url, "path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	written, err := io.Copy(file, resp.Body)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	d.log.Info("Download completed", "bytes", written, "duration", time.Since(start))
	return resp.Header.Get("ETag"), nil
}

// waitForDownload polls until another instance has produced the file
func (d *Dataset) waitForDownload(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	timeout := time.After(d.waitTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timeout waiting for download by other instance")
		case <-ticker.C:
			if _, err := os.Stat(d.parquetPath); err == nil {
				d.log.Info("Dataset now available after other instance completed")
				return nil
			}
		}
	}
}

func (d *Dataset) loadMetadata() (*Metadata, error) {
	data, err := os.ReadFile(d.metadataPath)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (d *Dataset) saveMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.metadataPath, data, 0644)
}

// acquireLock creates the lock file, failing if it already exists
func acquireLock(lockPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

func releaseLock(f *os.File, lockPath string) {
	f.Close()
	os.Remove(lockPath)
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
