//go:build !windows

package process

import (
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// pidAlive returns true if a process with given pid exists (or EPERM). Zombies
// that have exited but were not reaped yet count as dead.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return false
	}
	fields := strings.Fields(line[end+2:])
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}
