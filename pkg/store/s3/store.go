package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/3leaps/gristmill/pkg/store"
)

// Store implements store.Store for AWS S3 and S3-compatible storage.
type Store struct {
	client       *awss3.Client
	bucket       string
	sourcePrefix string
	destPrefix   string
	workdir      string
	maxKeys      int
	limiter      *rate.Limiter
}

// Ensure Store implements the interfaces.
var (
	_ store.Store        = (*Store)(nil)
	_ store.WriteProber  = (*Store)(nil)
	_ store.SourceProber = (*Store)(nil)
)

// imdsTimeout bounds the instance metadata region lookup so that runs off
// EC2 are not delayed by a hanging probe.
const imdsTimeout = 2 * time.Second

// New creates a new S3 store with the given configuration.
//
// The store uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &store.StoreError{
			Op:    "New",
			Store: store.TypeS3,
			Path:  cfg.Bucket,
			Err:   err,
		}
	}

	// Build S3 client options
	s3Opts := []func(*awss3.Options){
		func(o *awss3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := awss3.NewFromConfig(awsCfg, s3Opts...)

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if maxKeys > MaxAllowedKeys {
		maxKeys = MaxAllowedKeys
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Store{
		client:       client,
		bucket:       cfg.Bucket,
		sourcePrefix: normalizePrefix(cfg.SourcePrefix),
		destPrefix:   normalizePrefix(cfg.DestPrefix),
		workdir:      cfg.Workdir,
		maxKeys:      maxKeys,
		limiter:      limiter,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set profile if specified
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// On EC2, instance metadata can supply the region before the
	// us-east-1 fallback kicks in.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = regionFromIMDS(ctx, awsCfg)
	}

	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// regionFromIMDS queries the EC2 instance metadata service for the current
// region. Best effort: returns "" when not running on EC2.
func regionFromIMDS(ctx context.Context, awsCfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := imds.NewFromConfig(awsCfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil || out == nil {
		return ""
	}
	return out.Region
}

// Kind identifies the variant.
func (s *Store) Kind() store.Type { return store.TypeS3 }

// Close releases any resources held by the store.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (s *Store) Close() error { return nil }

// ListInputs pages through every object under the source prefix.
func (s *Store) ListInputs(ctx context.Context) ([]store.Input, error) {
	var inputs []store.Input
	var token *string

	for {
		if err := s.wait(ctx, "ListInputs"); err != nil {
			return nil, err
		}

		input := &awss3.ListObjectsV2Input{
			Bucket:  aws.String(s.bucket),
			MaxKeys: aws.Int32(int32(s.maxKeys)),
		}
		if s.sourcePrefix != "" {
			input.Prefix = aws.String(s.sourcePrefix)
		}
		if token != nil {
			input.ContinuationToken = token
		}

		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, s.wrapError("ListInputs", s.sourcePrefix, err)
		}

		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			// Folder-marker objects carry no content.
			if strings.HasSuffix(key, "/") {
				continue
			}
			rel := strings.TrimPrefix(key, s.sourcePrefix)
			if rel == "" {
				continue
			}
			inputs = append(inputs, store.Input{
				Identity:   store.IdentityFor(rel),
				Name:       rel,
				Token:      key,
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}

		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

// Fetch downloads one input into the workdir and returns the local path.
func (s *Store) Fetch(ctx context.Context, in store.Input) (string, error) {
	if err := s.wait(ctx, "Fetch"); err != nil {
		return "", err
	}

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(in.Token),
	})
	if err != nil {
		return "", s.wrapError("Fetch", in.Token, err)
	}
	defer func() { _ = out.Body.Close() }()

	target := filepath.Join(s.workdir, "inputs", path.Base(in.Token))
	if err := writeFileAtomic(target, out.Body); err != nil {
		return "", s.wrapError("Fetch", in.Token, err)
	}
	return target, nil
}

// OutputRef is the destination key prefix for an identity's outputs.
func (s *Store) OutputRef(identity string) string {
	return s.destPrefix + identity + "/"
}

// Publish uploads every file under localDir to the identity's output prefix.
func (s *Store) Publish(ctx context.Context, localDir, identity string) (string, error) {
	ref := s.OutputRef(identity)

	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return "", s.wrapError("Publish", localDir, err)
	}
	if len(files) == 0 {
		return "", &store.StoreError{Op: "Publish", Store: store.TypeS3, Path: localDir, Err: fmt.Errorf("no files to publish")}
	}

	for _, p := range files {
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return "", s.wrapError("Publish", p, err)
		}
		key := ref + filepath.ToSlash(rel)
		if err := s.putFile(ctx, key, p); err != nil {
			return "", err
		}
	}
	return ref, nil
}

// ProbeExists reports whether anything is published under the reference.
func (s *Store) ProbeExists(ctx context.Context, ref string) (bool, error) {
	if strings.TrimSpace(ref) == "" {
		return false, nil
	}
	if err := s.wait(ctx, "ProbeExists"); err != nil {
		return false, err
	}

	out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(ref),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, s.wrapError("ProbeExists", ref, err)
	}
	return len(out.Contents) > 0, nil
}

// FetchLedger downloads the published ledger into the workdir, if present.
func (s *Store) FetchLedger(ctx context.Context, name string) (string, bool, error) {
	if err := s.wait(ctx, "FetchLedger"); err != nil {
		return "", false, err
	}

	key := s.destPrefix + name
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		wrapped := s.wrapError("FetchLedger", key, err)
		if store.IsNotFound(wrapped) {
			return "", false, nil
		}
		return "", false, wrapped
	}
	defer func() { _ = out.Body.Close() }()

	target := filepath.Join(s.workdir, name)
	if err := writeFileAtomic(target, out.Body); err != nil {
		return "", false, s.wrapError("FetchLedger", key, err)
	}
	return target, true, nil
}

// PublishLedger uploads the working ledger file to the destination prefix.
func (s *Store) PublishLedger(ctx context.Context, localPath, name string) error {
	return s.putFile(ctx, s.destPrefix+name, localPath)
}

// ProbeSource verifies the source prefix is listable.
func (s *Store) ProbeSource(ctx context.Context) error {
	if err := s.wait(ctx, "ProbeSource"); err != nil {
		return err
	}
	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	}
	if s.sourcePrefix != "" {
		input.Prefix = aws.String(s.sourcePrefix)
	}
	if _, err := s.client.ListObjectsV2(ctx, input); err != nil {
		return s.wrapError("ProbeSource", s.sourcePrefix, err)
	}
	return nil
}

// ProbeWrite verifies the destination accepts writes using a multipart
// create/abort pair, which leaves nothing behind.
func (s *Store) ProbeWrite(ctx context.Context) error {
	if err := s.wait(ctx, "ProbeWrite"); err != nil {
		return err
	}

	key := s.destPrefix + ".gristmill-write-probe"
	created, err := s.client.CreateMultipartUpload(ctx, &awss3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.wrapError("ProbeWrite", key, err)
	}
	_, err = s.client.AbortMultipartUpload(ctx, &awss3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: created.UploadId,
	})
	if err != nil {
		return s.wrapError("ProbeWrite", key, err)
	}
	return nil
}

// putFile uploads one local file to a key.
func (s *Store) putFile(ctx context.Context, key, localPath string) error {
	if err := s.wait(ctx, "PutObject"); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return s.wrapError("PutObject", key, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return s.wrapError("PutObject", key, err)
	}
	size := st.Size()

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: &size,
	})
	if err != nil {
		return s.wrapError("PutObject", key, err)
	}
	return nil
}

// wait blocks on the client-side rate limiter when one is configured.
func (s *Store) wait(ctx context.Context, op string) error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return &store.StoreError{Op: op, Store: store.TypeS3, Err: err}
	}
	return nil
}

// wrapError converts S3 errors to store errors with appropriate sentinels.
func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &store.StoreError{
		Op:    op,
		Store: store.TypeS3,
		Path:  key,
		Err:   err,
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = store.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = store.ErrSourceNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound":
			wrapped.Err = store.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = store.ErrSourceNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = store.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = store.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = store.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = store.ErrUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Err = store.ErrNotFound
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = store.ErrSourceNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = store.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = store.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = store.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = store.ErrUnavailable
	}

	return wrapped
}

// writeFileAtomic streams body to path via a temp file + rename.
func writeFileAtomic(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "gristmill-get-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// resolveRegion determines the final region to use after SDK config loading.
//
// The sdkRegion parameter is the region after SDK loading and the IMDS
// probe, which already incorporates explicit cfgRegion (if set) or
// env/profile resolution.
//
// Priority (already applied before this function):
//  1. Explicit cfgRegion (passed to SDK via config.WithRegion)
//  2. Environment variables (AWS_REGION, AWS_DEFAULT_REGION)
//  3. Shared config/credentials profile
//  4. EC2 instance metadata
//
// This function only applies the fallback default:
//   - If sdkRegion is still empty AND no custom endpoint, default to us-east-1
//   - For S3-compatible stores (endpoint set), no defaulting occurs
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}

	// Only default for AWS S3 (no custom endpoint)
	if endpoint == "" {
		return DefaultAWSRegion
	}

	// S3-compatible: no default, endpoint may not need region
	return ""
}
