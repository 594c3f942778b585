package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Service reads track audio and artwork from remote object storage.
type Service interface {
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
	// Download writes the object to w starting at object offset, so a partial
	// file can be completed. Progress reports bytes written in this call.
	Download(ctx context.Context, bucket, key string, w io.WriterAt, offset int64, progress func(done int64)) (int64, error)
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// ParseURL splits an s3://bucket/key reference.
func ParseURL(location string) (bucket, key string, err error) {
	if !strings.HasPrefix(location, "s3://") {
		return "", "", fmt.Errorf("invalid s3 location")
	}
	rest := strings.TrimPrefix(location, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid s3 location")
	}
	if len(parts) == 1 || strings.TrimPrefix(parts[1], "/") == "" {
		return "", "", fmt.Errorf("s3 key missing")
	}
	return parts[0], strings.TrimPrefix(parts[1], "/"), nil
}

// IsURL reports whether location uses the s3 scheme.
func IsURL(location string) bool {
	return strings.HasPrefix(location, "s3://")
}
