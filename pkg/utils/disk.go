package utils

import (
	"crypto/md5"
	"encoding/hex"
	"io/fs"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// HashKeyForDisk returns a fixed-length, filesystem-safe key for s.
func HashKeyForDisk(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DirectorySize walks dir and sums the size of every regular file below it.
// Files that disappear or cannot be stat'ed during the walk are skipped.
func DirectorySize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += info.Size()
		return nil
	})
	return size
}

// ReadableSize formats a byte count for display (e.g. "172 MiB").
func ReadableSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}
