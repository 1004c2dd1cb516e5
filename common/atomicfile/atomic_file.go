// Package atomicfile provides functions to read and write files atomically.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// WriteFile writes data to a file named by filename atomically: readers see either the old or
// the new contents, never a partial write.
func WriteFile(filename string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			_ = os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		if err = f.Chmod(perm); err != nil {
			return err
		}
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// os.Rename will fail on Windows if the target file already exists so we remove it first.
	if runtime.GOOS == "windows" {
		_ = os.Remove(filename)
	}
	return os.Rename(f.Name(), filename)
}

func ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// WriteJSON atomically replaces filename with the JSON encoding of v.
func WriteJSON(filename string, v any, perm os.FileMode) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(filename), err)
	}
	return WriteFile(filename, data, perm)
}

// ReadJSON decodes the JSON in filename into v. A missing file is reported with an error
// satisfying errors.Is(err, os.ErrNotExist).
func ReadJSON(filename string, v any) error {
	data, err := ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", filepath.Base(filename), err)
	}
	return nil
}
