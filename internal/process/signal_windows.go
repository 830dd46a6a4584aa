//go:build windows

package process

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
)

const processTerminate = 0x0001

// terminate ends a Windows process by PID. Windows has no SIGTERM, so the worker
// gets no chance to clean up and its records are removed by the caller.
func terminate(pid int) error {
	handle, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		// If we can't open the process, it likely doesn't exist anymore
		return nil
	}
	defer func() { _ = syscall.CloseHandle(handle) }()

	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}
