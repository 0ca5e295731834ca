package np

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
)

// ConvertToAbsolute returns an absolute path for path, treating relative paths
// as relative to baseDir.
func ConvertToAbsolute(path, baseDir string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}
	if baseDir == "" {
		var err error
		if baseDir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Abs(filepath.Join(baseDir, path))
}

// Comma formats an integer count with thousands separators for log messages.
func Comma(n int) string {
	return humanize.Comma(int64(n))
}

// Bytes formats a byte count, e.g., "82 MB".
func Bytes(n uint64) string {
	return humanize.Bytes(n)
}

// MemoryOf returns a human readable estimate of the memory held by v.
func MemoryOf(v interface{}) string {
	n := size.Of(v)
	if n < 0 {
		return "unknown"
	}
	return humanize.Bytes(uint64(n))
}

// FileExists returns true if the path is an existing regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// Describe returns a short description of the engine for "about" output.
func Describe() string {
	return fmt.Sprintf("NeuroProof agglomeration engine %s (interchange %s)", Version, InterchangeVersion)
}
