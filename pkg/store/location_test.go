package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		want        Location
		wantErr     bool
		errContains string
	}{
		{
			name: "s3 with prefix",
			uri:  "s3://my-bucket/raw-scans/",
			want: Location{Type: TypeS3, Bucket: "my-bucket", Prefix: "raw-scans/"},
		},
		{
			name: "s3 bucket only",
			uri:  "s3://my-bucket",
			want: Location{Type: TypeS3, Bucket: "my-bucket"},
		},
		{
			name: "s3 nested prefix",
			uri:  "s3://data/projects/cats/2024/",
			want: Location{Type: TypeS3, Bucket: "data", Prefix: "projects/cats/2024/"},
		},
		{
			name: "file scheme",
			uri:  "file:///data/scans",
			want: Location{Type: TypeLocal, Path: "/data/scans"},
		},
		{
			name: "bare absolute path",
			uri:  "/data/scans",
			want: Location{Type: TypeLocal, Path: "/data/scans"},
		},
		{
			name: "bare relative path",
			uri:  "scans/raw",
			want: Location{Type: TypeLocal, Path: "scans/raw"},
		},
		{
			name: "zip archive",
			uri:  "/data/scans.zip",
			want: Location{Type: TypeLocal, Path: "/data/scans.zip"},
		},
		{
			name: "surrounding whitespace trimmed",
			uri:  "  s3://my-bucket/raw/  ",
			want: Location{Type: TypeS3, Bucket: "my-bucket", Prefix: "raw/"},
		},
		{
			name:        "empty",
			uri:         "",
			wantErr:     true,
			errContains: "empty",
		},
		{
			name:        "s3 without bucket",
			uri:         "s3://",
			wantErr:     true,
			errContains: "no bucket",
		},
		{
			name:        "file without path",
			uri:         "file://",
			wantErr:     true,
			errContains: "no path",
		},
		{
			name:        "unsupported scheme",
			uri:         "gs://bucket/prefix",
			wantErr:     true,
			errContains: "unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocation(tt.uri)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocation_String(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want string
	}{
		{
			name: "s3 with prefix",
			loc:  Location{Type: TypeS3, Bucket: "my-bucket", Prefix: "raw/"},
			want: "s3://my-bucket/raw/",
		},
		{
			name: "s3 bucket only",
			loc:  Location{Type: TypeS3, Bucket: "my-bucket"},
			want: "s3://my-bucket",
		},
		{
			name: "local path",
			loc:  Location{Type: TypeLocal, Path: "/data/scans"},
			want: "/data/scans",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loc.String())
		})
	}
}

func TestIdentityFor(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain file", in: "cat001.jpg", want: "cat001"},
		{name: "nested path", in: "shots/day2/cat001.jpg", want: "cat001"},
		{name: "windows separators", in: `shots\day2\cat001.jpg`, want: "cat001"},
		{name: "no extension", in: "README", want: "README"},
		{name: "multiple dots", in: "archive.tar.gz", want: "archive.tar"},
		{name: "dotfile keeps full name", in: ".env", want: ".env"},
		{name: "extension differs same identity", in: "cat001.png", want: "cat001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IdentityFor(tt.in))
		})
	}
}
