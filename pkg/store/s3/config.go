// Package s3 implements the store interface for AWS S3 and S3-compatible
// storage.
package s3

import "strings"

// Config configures an S3 store.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// Region handling:
//   - For AWS S3: if Region is empty and not set via environment/profile,
//     the instance metadata service is consulted, then us-east-1.
//   - For S3-compatible stores: Region is typically ignored by the endpoint.
//     When Endpoint is set, no default region is applied.
//
// For S3-compatible stores (Wasabi, MinIO, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// SourcePrefix scopes input discovery, e.g. "datasets/raw/".
	// Empty lists the whole bucket.
	SourcePrefix string

	// DestPrefix is where outputs and the ledger are published,
	// e.g. "datasets/processed/".
	DestPrefix string

	// Workdir is the local directory fetched inputs and the downloaded
	// ledger are written to (required).
	Workdir string

	// Region is the AWS region.
	// For AWS S3: defaults via IMDS then us-east-1 if not specified.
	// For S3-compatible (when Endpoint is set): no default applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must
	// also be set. Takes precedence over the default credential chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	// Required for most S3-compatible stores.
	ForcePathStyle bool

	// MaxKeys is the page size for listing. Zero uses the default (1000).
	MaxKeys int

	// RateLimit caps API requests per second. Zero disables limiting.
	RateLimit float64

	// RateBurst is the limiter burst size. Zero uses 1 when RateLimit is set.
	RateBurst int
}

// DefaultMaxKeys is the default page size for listing.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if strings.TrimSpace(c.Workdir) == "" {
		return &ConfigError{Field: "Workdir", Message: "workdir is required"}
	}

	// If one explicit credential is set, both must be set
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if c.RateLimit < 0 {
		return &ConfigError{Field: "RateLimit", Message: "rate limit cannot be negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// normalizePrefix trims a leading slash and guarantees a trailing slash on
// non-empty prefixes, so key joins never double or drop separators.
func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
