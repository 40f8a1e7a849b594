//go:build windows

package device

import "golang.org/x/sys/windows"

// IsElevated reports whether the current process token is elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
