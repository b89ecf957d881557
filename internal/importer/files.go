package importer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Outcome names the directory a finished file is moved into.
type Outcome string

const (
	Processed Outcome = "processed"
	Failed    Outcome = "error"
)

// FileInfo describes a CSV file waiting in the incoming directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// Scan returns the CSV files directly inside dir, sorted by name. The
// processed/ and error/ subdirectories are not descended into.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading incoming dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// MoveTo moves path into the outcome directory next to it, replacing any
// file of the same name, and returns the new location.
func MoveTo(path string, outcome Outcome) (string, error) {
	dstDir := filepath.Join(filepath.Dir(path), string(outcome))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s dir: %w", outcome, err)
	}

	dst := filepath.Join(dstDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", filepath.Base(path), outcome, err)
	}
	return dst, nil
}
