// Package fsutil holds the raw filesystem helpers used by the quota guard
// and the maintenance scheduler.
package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DirSize returns the total size in bytes of all regular files under root.
// Unreadable entries are skipped rather than failing the whole scan.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// FreeBytes returns the available space on the volume hosting path.
func FreeBytes(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// CountFilesByExt counts regular files under root grouped by extension.
func CountFilesByExt(root string) (map[string]int, error) {
	counts := make(map[string]int)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == "" {
			ext = "none"
		}
		counts[ext]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RemoveOlderThan deletes regular files directly under dir whose modification
// time is older than maxAge. Returns the number of files removed.
func RemoveOlderThan(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// JobDownloadDir builds the organized output directory for a job:
// <root>/<platform>/<yyyy-mm-dd>/<job-id>.
func JobDownloadDir(root, platform, jobID string) (string, error) {
	dir := filepath.Join(root, platform, time.Now().UTC().Format("2006-01-02"), jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
