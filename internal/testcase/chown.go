package testcase

import (
	"os"
	"path/filepath"
)

// chownRecursive walks dir and calls os.Chown on every file and directory
// within it. uid or gid of -1 leaves that field unchanged, matching os.Chown
// semantics.
func chownRecursive(dir string, uid, gid int) error {
	return filepath.Walk(dir, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, uid, gid)
	})
}
