//go:build !linux

package fsops

import "os"

// Without a portable atime the modification time stands in for both.
func statTimes(path string) (Times, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Times{}, err
	}
	return Times{Access: info.ModTime(), Modify: info.ModTime()}, nil
}

func setTimes(path string, t Times) error {
	return os.Chtimes(path, t.Access, t.Modify)
}
