// Package local implements the store interface for local directories and
// zip archives.
//
// Inputs are the regular files under the source directory. A source ending
// in .zip is extracted once into the workdir and then treated as a
// directory. Publishing is a filesystem copy into per-identity folders
// under the destination.
package local

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/3leaps/gristmill/pkg/store"
)

// Store implements store.Store for local filesystem paths.
type Store struct {
	source  string
	dest    string
	workdir string
	isZip   bool

	extractOnce sync.Once
	extractErr  error
	root        string // resolved input root (source dir or extraction dir)
}

// Ensure Store implements store capability interfaces.
var (
	_ store.Store        = (*Store)(nil)
	_ store.WriteProber  = (*Store)(nil)
	_ store.SourceProber = (*Store)(nil)
)

// Config configures a local store.
type Config struct {
	// Source is the input directory, or a .zip archive to extract.
	Source string

	// Dest is the output directory. Created if missing.
	Dest string

	// Workdir holds extracted archives. Required for zip sources.
	Workdir string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("local store: source is required")
	}
	if strings.TrimSpace(c.Dest) == "" {
		return fmt.Errorf("local store: dest is required")
	}
	if strings.EqualFold(filepath.Ext(c.Source), ".zip") && strings.TrimSpace(c.Workdir) == "" {
		return fmt.Errorf("local store: workdir is required for zip sources")
	}
	return nil
}

// New creates a local store. No filesystem access happens until the first
// operation, so construction is cheap even for archive sources.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		source:  filepath.Clean(cfg.Source),
		dest:    filepath.Clean(cfg.Dest),
		workdir: filepath.Clean(cfg.Workdir),
		isZip:   strings.EqualFold(filepath.Ext(cfg.Source), ".zip"),
	}
	s.root = s.source
	return s, nil
}

// Kind identifies the variant.
func (s *Store) Kind() store.Type { return store.TypeLocal }

func (s *Store) Close() error { return nil }

// ListInputs walks the input root and returns every regular file, sorted
// by source-relative name.
func (s *Store) ListInputs(ctx context.Context) ([]store.Input, error) {
	if err := s.ensureRoot(); err != nil {
		return nil, s.wrapError("ListInputs", s.source, err)
	}

	if _, err := os.Stat(s.root); err != nil {
		if os.IsNotExist(err) {
			return nil, &store.StoreError{Op: "ListInputs", Store: store.TypeLocal, Path: s.source, Err: store.ErrSourceNotFound}
		}
		return nil, s.wrapError("ListInputs", s.source, err)
	}

	var inputs []store.Input
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		inputs = append(inputs, store.Input{
			Identity:   store.IdentityFor(rel),
			Name:       rel,
			Token:      p,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, s.wrapError("ListInputs", s.source, err)
	}

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs, nil
}

// Fetch is pass-through path resolution: the token already names a local file.
func (s *Store) Fetch(ctx context.Context, in store.Input) (string, error) {
	_ = ctx
	st, err := os.Stat(in.Token)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &store.StoreError{Op: "Fetch", Store: store.TypeLocal, Path: in.Token, Err: store.ErrNotFound}
		}
		return "", s.wrapError("Fetch", in.Token, err)
	}
	if st.IsDir() {
		return "", &store.StoreError{Op: "Fetch", Store: store.TypeLocal, Path: in.Token, Err: store.ErrNotFound}
	}
	return in.Token, nil
}

// OutputRef is the destination folder for an identity.
func (s *Store) OutputRef(identity string) string {
	return filepath.Join(s.dest, identity)
}

// Publish copies the output tree for an identity into the destination.
// A localDir already at its final location is left alone.
func (s *Store) Publish(ctx context.Context, localDir, identity string) (string, error) {
	ref := s.OutputRef(identity)

	srcAbs, err := filepath.Abs(localDir)
	if err != nil {
		return "", s.wrapError("Publish", localDir, err)
	}
	refAbs, err := filepath.Abs(ref)
	if err != nil {
		return "", s.wrapError("Publish", ref, err)
	}
	if srcAbs == refAbs {
		return ref, nil
	}

	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return copyFile(p, filepath.Join(ref, rel))
	})
	if err != nil {
		return "", s.wrapError("Publish", localDir, err)
	}
	return ref, nil
}

// ProbeExists reports whether a published reference is still present.
func (s *Store) ProbeExists(ctx context.Context, ref string) (bool, error) {
	_ = ctx
	if strings.TrimSpace(ref) == "" {
		return false, nil
	}
	_, err := os.Stat(ref)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, s.wrapError("ProbeExists", ref, err)
}

// FetchLedger returns the ledger path under the destination, if present.
func (s *Store) FetchLedger(ctx context.Context, name string) (string, bool, error) {
	_ = ctx
	p, err := s.destPath(name)
	if err != nil {
		return "", false, s.wrapError("FetchLedger", name, err)
	}
	st, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, s.wrapError("FetchLedger", name, err)
	}
	if st.IsDir() {
		return "", false, s.wrapError("FetchLedger", name, fmt.Errorf("ledger path is a directory"))
	}
	return p, true, nil
}

// PublishLedger copies the working ledger file into the destination.
func (s *Store) PublishLedger(ctx context.Context, localPath, name string) error {
	_ = ctx
	p, err := s.destPath(name)
	if err != nil {
		return s.wrapError("PublishLedger", name, err)
	}
	srcAbs, _ := filepath.Abs(localPath)
	dstAbs, _ := filepath.Abs(p)
	if srcAbs == dstAbs {
		return nil
	}
	if err := copyFile(localPath, p); err != nil {
		return s.wrapError("PublishLedger", name, err)
	}
	return nil
}

// ProbeSource verifies the configured source exists.
func (s *Store) ProbeSource(ctx context.Context) error {
	_ = ctx
	st, err := os.Stat(s.source)
	if err != nil {
		if os.IsNotExist(err) {
			return &store.StoreError{Op: "ProbeSource", Store: store.TypeLocal, Path: s.source, Err: store.ErrSourceNotFound}
		}
		return s.wrapError("ProbeSource", s.source, err)
	}
	if s.isZip && st.IsDir() {
		return &store.StoreError{Op: "ProbeSource", Store: store.TypeLocal, Path: s.source, Err: fmt.Errorf("zip source is a directory")}
	}
	if !s.isZip && !st.IsDir() {
		return &store.StoreError{Op: "ProbeSource", Store: store.TypeLocal, Path: s.source, Err: fmt.Errorf("source is not a directory")}
	}
	return nil
}

// ProbeWrite verifies the destination accepts writes, leaving nothing behind.
func (s *Store) ProbeWrite(ctx context.Context) error {
	_ = ctx
	if err := os.MkdirAll(s.dest, 0o755); err != nil {
		return s.wrapError("ProbeWrite", s.dest, err)
	}
	tmp, err := os.CreateTemp(s.dest, ".gristmill-write-probe-*")
	if err != nil {
		return s.wrapError("ProbeWrite", s.dest, err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	if err := os.Remove(name); err != nil {
		return s.wrapError("ProbeWrite", s.dest, err)
	}
	return nil
}

// ensureRoot resolves the input root, extracting zip sources on first use.
func (s *Store) ensureRoot() error {
	if !s.isZip {
		return nil
	}
	s.extractOnce.Do(func() {
		stem := strings.TrimSuffix(filepath.Base(s.source), filepath.Ext(s.source))
		dir := filepath.Join(s.workdir, "extracted", stem)
		s.extractErr = extractZip(s.source, dir)
		if s.extractErr == nil {
			s.root = dir
		}
	})
	return s.extractErr
}

// destPath joins a name under the destination with a traversal guard.
func (s *Store) destPath(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	clean := filepath.Clean("/" + name)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid name path")
	}
	return filepath.Join(s.dest, filepath.FromSlash(clean)), nil
}

func (s *Store) wrapError(op, path string, err error) error {
	wrapped := &store.StoreError{Op: op, Store: store.TypeLocal, Path: path, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to store sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = store.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = store.ErrAccessDenied
	}
	return wrapped
}

// copyFile writes src to dst atomically (temp file + rename), creating
// parent directories as needed.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "gristmill-pub-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// extractZip unpacks archive into dir, refusing entries that would escape it.
func extractZip(archive, dir string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		name := filepath.ToSlash(f.Name)
		clean := filepath.Clean("/" + name)
		clean = strings.TrimPrefix(clean, "/")
		if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("archive entry escapes extraction dir: %q", f.Name)
		}
		target := filepath.Join(dir, filepath.FromSlash(clean))

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
