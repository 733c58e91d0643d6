package file

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// VideoExtensions are the containers picked up when a directory is scanned for media.
var VideoExtensions = []string{"mkv", "mp4", "m4v", "mov", "avi", "wmv", "flv", "webm"}

// FindByExt walks dir and returns the regular files whose extension is one of
// exts, sorted by path. Hidden directories are skipped.
func FindByExt(dir string, exts []string) ([]string, error) {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[strings.TrimPrefix(strings.ToLower(ext), ".")] = struct{}{}
	}

	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := want[Ext(path)]; ok {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(found)
	return found, nil
}
