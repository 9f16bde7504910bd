package store

import (
	"fmt"
	"strings"
)

// Location is a parsed storage URI.
//
// Supported forms:
//   - s3://bucket/prefix/   -> TypeS3
//   - file:///abs/path      -> TypeLocal
//   - /abs/path, rel/path   -> TypeLocal
type Location struct {
	// Type is the store variant the URI selects.
	Type Type

	// Bucket is the bucket name (S3 only).
	Bucket string

	// Prefix is the key prefix under the bucket (S3 only).
	Prefix string

	// Path is the filesystem path (local only).
	Path string
}

// ParseLocation parses a storage URI into a Location.
//
// Anything without a recognized scheme is treated as a local path, so
// plain directories and .zip archives work without decoration.
func ParseLocation(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Location{}, fmt.Errorf("location is empty")
	}

	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("s3 location %q has no bucket", uri)
		}
		return Location{Type: TypeS3, Bucket: bucket, Prefix: prefix}, nil

	case strings.HasPrefix(uri, "file://"):
		path := strings.TrimPrefix(uri, "file://")
		if path == "" {
			return Location{}, fmt.Errorf("file location %q has no path", uri)
		}
		return Location{Type: TypeLocal, Path: path}, nil

	case strings.Contains(uri, "://"):
		scheme, _, _ := strings.Cut(uri, "://")
		return Location{}, fmt.Errorf("unsupported location scheme %q", scheme)

	default:
		return Location{Type: TypeLocal, Path: uri}, nil
	}
}

// String renders the location back to URI form.
func (l Location) String() string {
	switch l.Type {
	case TypeS3:
		if l.Prefix == "" {
			return "s3://" + l.Bucket
		}
		return "s3://" + l.Bucket + "/" + l.Prefix
	default:
		return l.Path
	}
}
