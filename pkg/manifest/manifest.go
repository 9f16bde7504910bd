// Package manifest provides loading and validation of gristmill run manifests.
//
// A run manifest is a YAML or JSON file that configures all aspects of a
// processing run: source and destination locations, the per-file operation,
// input filtering, limits, and the progress ledger.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: cat-augmentation
//	source:
//	  uri: s3://my-bucket/raw-scans/
//	destination:
//	  uri: s3://my-bucket/processed/
//	operation:
//	  name: augment
//	  params:
//	    samples: 4
//	filters:
//	  includes:
//	    - "**/*.jpg"
//	limits:
//	  max_files: 100
package manifest

// Manifest represents a validated run manifest.
//
// Required fields are Version, Source, Destination, and Operation. Everything
// else is optional with sensible defaults.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	// Example: "https://schemas.3leaps.dev/gristmill/v1.0.0/run-manifest.schema.json"
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name is an optional human-readable run name, used in logs and
	// run history.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Source locates the inputs to process.
	Source LocationConfig `json:"source" yaml:"source"`

	// Destination locates where outputs and the ledger are published.
	Destination LocationConfig `json:"destination" yaml:"destination"`

	// Operation selects and configures the per-file operation.
	Operation OperationConfig `json:"operation" yaml:"operation"`

	// Filters restricts which discovered inputs enter the run plan (optional).
	Filters *FiltersConfig `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Limits bounds run size and retry behavior (optional).
	Limits LimitsConfig `json:"limits,omitempty" yaml:"limits,omitempty"`

	// Ledger configures the progress ledger (optional).
	Ledger LedgerConfig `json:"ledger,omitempty" yaml:"ledger,omitempty"`

	// Tracking configures an external tracking sheet to update (optional).
	Tracking *TrackingConfig `json:"tracking,omitempty" yaml:"tracking,omitempty"`

	// Output configures JSONL output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Workdir is the scratch directory for fetched inputs and staged
	// outputs. Defaults to a per-run directory under the app data dir.
	Workdir string `json:"workdir,omitempty" yaml:"workdir,omitempty"`

	// S3 tunes S3-backed locations (optional).
	S3 *S3Config `json:"s3,omitempty" yaml:"s3,omitempty"`
}

// LocationConfig identifies a storage location by URI.
type LocationConfig struct {
	// URI is the location: "s3://bucket/prefix/", a local directory,
	// or a local .zip archive.
	URI string `json:"uri" yaml:"uri"`
}

// OperationConfig selects the per-file operation.
type OperationConfig struct {
	// Name is the registered operation name (e.g., "augment", "resize").
	Name string `json:"name" yaml:"name"`

	// Params holds operation-specific parameters, validated by the
	// operation factory.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// FiltersConfig restricts which inputs enter the run plan.
// All criteria compose with AND semantics.
type FiltersConfig struct {
	// Includes is a list of glob patterns for inputs to include.
	// Default: match everything.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	// Excludes is a list of glob patterns for inputs to exclude. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes hidden files (starting with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`

	// Size specifies min/max size constraints.
	// Supports human-readable values: "1KB", "100MiB", "1GB".
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Modified specifies last-modified date range constraints.
	// Dates are in ISO 8601 format: "2024-01-15" or "2024-01-15T10:30:00Z".
	Modified *DateFilterConfig `json:"modified,omitempty" yaml:"modified,omitempty"`

	// NameRegex is a regex applied to input names after glob matching.
	// Use for patterns not expressible with globs, e.g., "cat-\\d{4}".
	NameRegex string `json:"name_regex,omitempty" yaml:"name_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive).
	// Supports: raw bytes "1024", base-10 "1KB", base-2 "1KiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies date range constraints.
type DateFilterConfig struct {
	// After filters to inputs modified at or after this time (inclusive).
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before filters to inputs modified before this time (exclusive end).
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// LimitsConfig bounds run size and retries.
type LimitsConfig struct {
	// MaxFiles caps the number of files processed in one run.
	// 0 or absent means unlimited.
	MaxFiles int `json:"max_files,omitempty" yaml:"max_files,omitempty"`

	// OpRetries is the number of additional operation attempts after a
	// failure. Default: 0 (one attempt).
	OpRetries int `json:"op_retries,omitempty" yaml:"op_retries,omitempty"`
}

// LedgerConfig configures the progress ledger.
type LedgerConfig struct {
	// Name is the ledger file name at the destination. Default: "ledger.csv".
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// TrackingConfig configures an external tracking sheet.
//
// After a file completes, the row whose key column equals the file's
// identity gets its result column set to the output reference.
type TrackingConfig struct {
	// Path is the tracking sheet CSV path.
	Path string `json:"path" yaml:"path"`

	// KeyColumn is the column holding file identities. Default: "identity".
	KeyColumn string `json:"key_column,omitempty" yaml:"key_column,omitempty"`

	// ResultColumn is the column to write output references into.
	// Default: "result".
	ResultColumn string `json:"result_column,omitempty" yaml:"result_column,omitempty"`
}

// OutputConfig configures JSONL output destination and format.
//
// All fields are optional with sensible defaults applied during loading.
type OutputConfig struct {
	// Destination is the output target.
	// Values: "stdout" or "file:/path/to/output.jsonl"
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission during the run.
	// Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// S3Config tunes S3-backed locations.
type S3Config struct {
	// Region is the AWS region (e.g., "us-east-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	// Example: "https://s3.wasabisys.com"
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ForcePathStyle enables path-style addressing (MinIO et al.).
	ForcePathStyle bool `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`

	// RateLimit is the maximum S3 requests per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`

	// MaxKeys is the page size for list operations. Range: 1-1000.
	MaxKeys int `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultLedgerName is the default ledger file name.
	DefaultLedgerName = "ledger.csv"

	// DefaultTrackingKeyColumn is the default tracking sheet key column.
	DefaultTrackingKeyColumn = "identity"

	// DefaultTrackingResultColumn is the default tracking sheet result column.
	DefaultTrackingResultColumn = "result"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	if m.Ledger.Name == "" {
		m.Ledger.Name = DefaultLedgerName
	}

	if m.Tracking != nil {
		if m.Tracking.KeyColumn == "" {
			m.Tracking.KeyColumn = DefaultTrackingKeyColumn
		}
		if m.Tracking.ResultColumn == "" {
			m.Tracking.ResultColumn = DefaultTrackingResultColumn
		}
	}

	// Output defaults
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// ProgressEnabled returns whether progress records should be emitted.
// Returns the configured value, or DefaultProgress if not set.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
