package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidPID = errors.New("invalid pid record")

// ParsePID reads the process id from the first line of a pid record. Anything
// after the first line is ignored.
func ParsePID(b []byte) (int, error) {
	pidLine, _, _ := strings.Cut(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(pidLine)
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// FormatPID renders a pid record.
func FormatPID(pid int) []byte {
	return []byte(strconv.Itoa(pid) + "\n")
}
