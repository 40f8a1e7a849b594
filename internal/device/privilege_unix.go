//go:build !windows

package device

import "golang.org/x/sys/unix"

// IsElevated reports whether the current process runs as root.
func IsElevated() bool {
	return unix.Geteuid() == 0
}
