//go:build !windows

package adapter

import (
	"golang.org/x/sys/unix"
)

// socketUsable reports whether path is a unix socket we can read and write
func socketUsable(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return false, nil
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return false, err
	}
	return true, nil
}
