package fsops

import "time"

// Times is a saved pair of file timestamps. It is a plain value owned by
// the caller.
type Times struct {
	Access time.Time
	Modify time.Time
}

// SaveTimes records the access and modification times of path.
func SaveTimes(path string) (Times, error) {
	return statTimes(path)
}

// RestoreTimes reapplies saved times to path.
func RestoreTimes(path string, t Times) error {
	return setTimes(path, t)
}

// CopyTimes copies the access and modification times of from onto to.
func CopyTimes(from, to string) error {
	t, err := statTimes(from)
	if err != nil {
		return err
	}
	return setTimes(to, t)
}

// WithTimesPreserved runs fn and then puts the original timestamps of path
// back, whether or not fn succeeded.
func WithTimesPreserved(path string, fn func() error) error {
	saved, err := SaveTimes(path)
	if err != nil {
		return err
	}
	fnErr := fn()
	if err := RestoreTimes(path, saved); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
