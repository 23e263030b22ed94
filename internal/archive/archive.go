// Package archive stores the raw bytes of committed uploads.
//
// Drivers:
//
//	none    archiving disabled (Open returns a nil Store)
//	memory  process memory, for tests and scratch runs
//	fs      files under a local directory
//	s3      an S3-compatible bucket (AWS S3 or MinIO)
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverFS     = "fs"
	DriverS3     = "s3"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("archive object not found")

// Store is implemented by every driver. It satisfies core.Archiver.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
}

// Config selects and configures a driver.
type Config struct {
	Driver string

	// fs
	Dir string

	// s3
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
}

// Open builds the configured driver. An empty driver or "none" returns a nil
// Store and no error.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverFS:
		return NewFS(cfg.Dir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			PathStyle:       cfg.PathStyle,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// cleanKey rejects keys that are empty, absolute or escape their prefix.
func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty archive key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute archive key %q", key)
	}
	clean := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid archive key %q", key)
	}
	return clean, nil
}
