//go:build linux || darwin

package archive

import (
	"time"

	"golang.org/x/sys/unix"
)

func setLinkTimes(path string, mtime time.Time) error {
	if mtime.IsZero() {
		return nil
	}
	tv := unix.NsecToTimeval(mtime.UnixNano())
	return unix.Lutimes(path, []unix.Timeval{tv, tv})
}
