package fsops

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func statTimes(path string) (Times, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Times{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Times{
		Access: time.Unix(st.Atim.Unix()),
		Modify: time.Unix(st.Mtim.Unix()),
	}, nil
}

func setTimes(path string, t Times) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(t.Access.UnixNano()),
		unix.NsecToTimespec(t.Modify.UnixNano()),
	}
	if err := unix.UtimesNano(path, ts); err != nil {
		return fmt.Errorf("set times on %s: %w", path, err)
	}
	return nil
}
