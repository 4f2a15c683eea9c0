// Package filestaging implements the content-addressed download cache and
// the per-entity symlink namespace that exposes cached files to devices
// through the local HTTP file-transfer endpoint, plus the on-disk
// supported-operations capability markers.
package filestaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Layout resolves every on-disk path this mapper writes, rooted at a data
// directory and an operations directory (they are configured separately
// because thin-edge.io keeps the operations-capability tree outside the
// data directory proper).
type Layout struct {
	DataDir string
	OpsDir  string
}

// CacheDir is where downloaded artifacts are stored, addressed by the
// SHA256 of the remote URL they were fetched from.
func (l Layout) CacheDir() string {
	return filepath.Join(l.DataDir, "cache")
}

// FileTransferDir is the root of the per-entity symlink namespace exposed
// over HTTP.
func (l Layout) FileTransferDir() string {
	return filepath.Join(l.DataDir, "file-transfer")
}

// SanitizeTypeTag rewrites the reserved path separator in a config type so
// it is safe to use as a filesystem path component.
func SanitizeTypeTag(configType string) string {
	return strings.ReplaceAll(configType, "/", ":")
}

// CacheKey is the content-address of a remote URL.
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// CachePath is where the cache entry for url lives.
func (l Layout) CachePath(url string) string {
	return filepath.Join(l.CacheDir(), CacheKey(url))
}

// CacheHit reports whether a cache entry already exists for url.
func (l Layout) CacheHit(url string) bool {
	info, err := os.Stat(l.CachePath(url))
	return err == nil && !info.IsDir()
}

// SymlinkPath is the per-(entity, operation, cmd) transfer symlink path.
// operation is "config_snapshot" or "config_update"; configType is
// sanitized internally.
func (l Layout) SymlinkPath(externalID, operation, configType, cmdID string) string {
	name := fmt.Sprintf("%s-%s", SanitizeTypeTag(configType), cmdID)
	return filepath.Join(l.FileTransferDir(), externalID, operation, name)
}

// CreateSymlink idempotently creates a symlink at the transfer path
// pointing at original. If the path already exists as a symlink, this is a
// no-op, matching the invariant that symlink creation is safe to retry.
func CreateSymlink(symlinkPath, original string) error {
	if info, err := os.Lstat(symlinkPath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return errors.Errorf("path exists and is not a symlink: %s", symlinkPath)
	}
	if err := os.MkdirAll(filepath.Dir(symlinkPath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create symlink directory for %s", symlinkPath)
	}
	if err := os.Symlink(original, symlinkPath); err != nil {
		return errors.Wrapf(err, "failed to create symlink %s", symlinkPath)
	}
	return nil
}

// DeleteSymlink best-effort removes symlinkPath; a missing path is not an
// error, matching the ConfigUpdate terminal-cleanup contract.
func DeleteSymlink(symlinkPath string) error {
	if err := os.Remove(symlinkPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove symlink %s", symlinkPath)
	}
	return nil
}

// PopulateCache writes src into the cache entry for url via a temp file and
// an atomic rename, so a crash or failed download never leaves a partial
// cache entry visible to readers.
func (l Layout) PopulateCache(url string, src io.Reader) error {
	if err := os.MkdirAll(l.CacheDir(), 0o755); err != nil {
		return errors.Wrap(err, "failed to create cache directory")
	}
	dest := l.CachePath(url)
	tmp, err := os.CreateTemp(l.CacheDir(), "download-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp download file")
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write downloaded content")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to finalize temp download file")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrapf(err, "failed to move download into cache at %s", dest)
	}
	return nil
}

// OpsDirFor resolves the supported-operations marker directory for an
// entity. Only the main device and first-level child devices are
// supported; callers are responsible for enforcing that restriction before
// calling this (it has no way to express "unsupported" on its own).
func (l Layout) OpsDirFor(childExternalID string) string {
	if childExternalID == "" {
		return l.OpsDir
	}
	return filepath.Join(l.OpsDir, childExternalID)
}

// WriteCapabilityMarker creates the empty marker file declaring that
// opName is supported, creating the containing directory as needed.
func WriteCapabilityMarker(dir, opName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create operations directory %s", dir)
	}
	path := filepath.Join(dir, opName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "failed to create capability marker %s", path)
	}
	return f.Close()
}

// ScanCapabilities lists the capability marker files directly under dir, if
// it exists. A missing directory is reported as no capabilities, not an
// error — the mapper may run before any marker has ever been written.
func ScanCapabilities(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to scan operations directory %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
