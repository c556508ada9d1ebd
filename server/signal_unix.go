//go:build !windows
// +build !windows

package server

import (
	"errors"
	"syscall"
)

func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// alive sends signal 0 to pid. EPERM still means the process exists.
func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
