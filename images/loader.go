package images

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// ListDirectory returns the paths of all supported image files in a directory.
//
// Subdirectories and files with unsupported extensions are skipped. The
// result is sorted by file name so folder runs are reproducible.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []string: Paths of the image files.
//   - error: Error if the directory cannot be read.
func ListDirectory(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %s", dir)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := FormatFromPath(entry.Name()); !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(paths)

	return paths, nil
}

// Expand resolves a path to a list of image files: a directory yields its
// images, a file yields itself.
//
// Arguments:
//   - path: A file or directory path.
//
// Returns:
//   - []string: Image file paths.
//   - error: Error if the path does not exist.
func Expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	if info.IsDir() {
		return ListDirectory(path)
	}
	return []string{path}, nil
}
