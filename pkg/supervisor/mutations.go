package supervisor

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CountMutationsSince walks the workspace and counts regular files
// modified after the given instant, returning the count and the newest
// modification time seen. Version-control internals are skipped: agent
// work shows up in the work tree, and .git churns on every status
// query.
//
// Unreadable entries are skipped rather than failing the scan; a
// permission hole in one subtree must not blind supervision to the
// rest.
func CountMutationsSince(workspace string, since time.Time) (int, time.Time, error) {
	if _, err := os.Stat(workspace); err != nil {
		return 0, time.Time{}, err
	}

	count := 0
	var newest time.Time

	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
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
		if info.ModTime().After(since) {
			count++
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, newest, nil
}
