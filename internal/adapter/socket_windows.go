//go:build windows

package adapter

import (
	"golang.org/x/sys/windows"
)

// socketUsable reports whether a named pipe exists at path
func socketUsable(path string) (bool, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false, err
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return false, err
	}
	return attrs != windows.INVALID_FILE_ATTRIBUTES, nil
}
