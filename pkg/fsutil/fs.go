/*
Copyright 2025 The maco Authors

This program is offered under a commercial and under the AGPL license.
For AGPL licensing, see below.

AGPL licensing:
This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package fsutil

import (
	"os"
	"path/filepath"
)

// LoadDir checks specified paths and creates all paths if it does not exist
func LoadDir(path string) error {
	_, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		err = os.MkdirAll(path, 0755)
		if err != nil {
			return err
		}
	}
	return nil
}

// FileExists checks specified pathname does exist
func FileExists(path string) bool {
	stat, _ := os.Stat(path)
	return stat != nil
}

// Echo writes data to path atomically: it writes to a sibling temp file
// and renames it over path, so a reader never observes a partial write.
func Echo(path string, data []byte, mode os.FileMode) error {
	if err := LoadDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Cat reads the full contents of path.
func Cat(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// RemoveDir removes path and everything under it, tolerating a path that
// is already gone.
func RemoveDir(path string) error {
	return os.RemoveAll(path)
}
