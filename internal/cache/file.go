package cache

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FileVersion versions a file by its modification time and size.
func FileVersion(path string) VersionFunc {
	return func() (string, error) {
		st, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(st.ModTime().UnixNano(), 10) + ":" + strconv.FormatInt(st.Size(), 10), nil
	}
}

// NewFile caches parse(contents of path).
func NewFile[T any](path string, ttl time.Duration, parse func([]byte) (T, error)) *Cache[T] {
	return New(ttl, FileVersion(path), func() (T, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("read %s: %w", path, err)
		}
		return parse(data)
	})
}
