package supervisor

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another supervisor already runs on the root.
var ErrLocked = errors.New("another supervisor is already running")

// Lock takes the exclusive supervisor lock at path without blocking.
// The caller must Unlock it on exit.
func Lock(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, path)
	}
	return fl, nil
}
