package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Common errors returned by every Store implementation.
var (
	ErrNotFound   = errors.New("record not found")
	ErrExists     = errors.New("record already exists")
	ErrInvalidKey = errors.New("invalid record key")
)

// Bucket groups records of one kind. Each agent owns at most one record per bucket,
// keyed by its name.
type Bucket string

const (
	BucketAgents     Bucket = "agents"
	BucketHeartbeats Bucket = "heartbeat"
	BucketPIDs       Bucket = "pids"
	BucketReports    Bucket = "reports"
)

// Store is a keyed record store. Every Put or Create must replace the record
// atomically: a concurrent reader sees either the previous or the new content,
// never a partial write.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket Bucket, key string, data []byte) error
	// Create stores data only if no record exists under key; otherwise it returns ErrExists.
	Create(ctx context.Context, bucket Bucket, key string, data []byte) error
	// Delete removes the record. A missing record is not an error.
	Delete(ctx context.Context, bucket Bucket, key string) error
	// Keys lists record keys of a bucket in ascending order.
	Keys(ctx context.Context, bucket Bucket) ([]string, error)
	Close() error
}

// ValidKey reports whether key is usable as a record key. Keys end up in file
// names, so only [A-Za-z0-9._-] is allowed and ".." is rejected.
func ValidKey(key string) bool {
	if key == "" || key == "." || strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// GetJSON loads the record under key and decodes it into v.
func GetJSON(ctx context.Context, s Store, bucket Bucket, key string, v any) error {
	b, err := s.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// PutJSON encodes v as indented JSON and stores it under key.
func PutJSON(ctx context.Context, s Store, bucket Bucket, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.Put(ctx, bucket, key, b)
}

// CreateJSON is PutJSON with create-if-absent semantics.
func CreateJSON(ctx context.Context, s Store, bucket Bucket, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.Create(ctx, bucket, key, b)
}
