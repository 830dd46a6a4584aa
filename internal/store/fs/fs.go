package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/agentvisor/internal/store"
)

// DB implements store.Store on a directory tree: one file per record at
// <root>/<bucket>/<key><ext>. PID records use the ".pid" extension and hold a
// bare number; every other bucket holds JSON.
type DB struct {
	root string
}

// New opens (creating if needed) a file store rooted at dir.
func New(dir string) (*DB, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return nil, errors.New("empty store directory")
	}
	if err := os.MkdirAll(d, 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &DB{root: d}, nil
}

// Root returns the directory the store writes into.
func (s *DB) Root() string { return s.root }

func ext(bucket store.Bucket) string {
	if bucket == store.BucketPIDs {
		return ".pid"
	}
	return ".json"
}

func (s *DB) path(bucket store.Bucket, key string) (string, error) {
	if !store.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidKey, key)
	}
	return filepath.Join(s.root, string(bucket), key+ext(bucket)), nil
}

func (s *DB) Get(_ context.Context, bucket store.Bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *DB) Put(_ context.Context, bucket store.Bucket, key string, data []byte) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	return atomicWriteFile(p, data, 0o600)
}

// Create serializes the existence check and the write with an flock on the
// bucket directory so two concurrent creators cannot both succeed.
func (s *DB) Create(ctx context.Context, bucket store.Bucket, key string, data []byte) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquire bucket lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire bucket lock: %s busy", dir)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(p); err == nil {
		return store.ErrExists
	} else if !os.IsNotExist(err) {
		return err
	}
	return atomicWriteFile(p, data, 0o600)
}

func (s *DB) Delete(_ context.Context, bucket store.Bucket, key string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DB) Keys(_ context.Context, bucket store.Bucket) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(bucket)))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	e := ext(bucket)
	keys := make([]string, 0, len(entries))
	for _, ent := range entries {
		n := ent.Name()
		if ent.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, e) {
			continue
		}
		key := strings.TrimSuffix(n, e)
		if store.ValidKey(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DB) Close() error { return nil }

// atomicWriteFile writes data to a temp file in the target directory and renames it
// into place, so readers never observe a partially written record.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}

// rename retries briefly on Windows where a reader holding the target open makes
// the rename fail transiently.
func rename(src, dst string) error {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if lastErr = os.Rename(src, dst); lastErr == nil {
			return nil
		}
		if runtime.GOOS != "windows" {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("rename %s to %s: %w", src, dst, lastErr)
}
