package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AddBlobDeduplicated copies a file into the account's blob directory,
// naming it by content hash so identical attachments share one blob.
// Returns the stored path.
func (db *DB) AddBlobDeduplicated(srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", fmt.Errorf("hash source: %w", err)
	}
	name := hex.EncodeToString(h.Sum(nil)) + filepath.Ext(srcPath)
	dstPath := filepath.Join(db.blobDir, name)

	if _, err := os.Stat(dstPath); err == nil {
		return dstPath, nil
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	// Write to a temp file first so readers never see a partial blob.
	tmp, err := os.CreateTemp(db.blobDir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("copy blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return dstPath, nil
}
