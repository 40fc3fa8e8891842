package utils

import (
	"errors"
	"os"
)

// EnsureDir creates the directory if it does not exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// RemoveIfExists removes path and everything below it; a missing path is not an error
func RemoveIfExists(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
