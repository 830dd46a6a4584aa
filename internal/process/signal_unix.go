//go:build !windows

package process

import (
	"errors"
	"syscall"
)

// terminate sends SIGTERM so the worker can remove its own records. A process
// that is already gone is not an error.
func terminate(pid int) error {
	err := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
