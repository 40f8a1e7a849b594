//go:build windows

package device

import "os/exec"

// Windows has no process groups in the POSIX sense; KillTree covers the
// descendants it can still find.
func setProcessGroup(*exec.Cmd) {}

func killProcessGroup(int) error { return nil }
