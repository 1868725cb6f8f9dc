package util

import (
	"io/ioutil"
	"os"

	"github.com/pingcap/errors"
)

func DirExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// IsEmptyDir reports whether path is a directory without entries. A missing directory counts as empty.
func IsEmptyDir(path string) (bool, error) {
	if !DirExists(path) {
		return true, nil
	}
	entries, err := ioutil.ReadDir(path)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return len(entries) == 0, nil
}
