package data

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	qserrors "github.com/objcachefs/objcachefs/pkg/errors"
)

// scratchFileName builds the unique on-disk name for a page, hashing the
// FID and combining it with the page's offset so that distinct Files never
// collide and distinct pages of the same File don't either, per spec.md
// §5's "page filenames are unique (FID hash + offset)" requirement.
//
// Grounded in internal/cache/persistent.go's generateFilePath, which hashes
// a cache key into a short hex name; this uses fnv.New64a rather than the
// original qsfs's rolling string hash (see SPEC_FULL.md §12) since fnv is
// the idiomatic non-cryptographic hash in Go's standard library.
func scratchFileName(fid string, offset int64) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fid))
	return fmt.Sprintf("%016x-%020d.page", h.Sum64(), offset)
}

// scratchPath joins dir and the page's filename, then guards against the
// resulting path escaping dir. FIDs are path-derived (object keys / mount
// paths) but every stored page file is named from a hash, never from the
// raw FID, so this guard is defensive rather than load-bearing -- it is
// kept because internal/cache/persistent.go's loadIndex/saveIndex carry the
// same guard for the same reason: never trust a path built from
// user-influenced input without checking where it landed.
func scratchPath(dir, fid string, offset int64) (string, error) {
	name := scratchFileName(fid, offset)
	full := filepath.Join(dir, name)
	cleanDir := filepath.Clean(dir)
	if !strings.HasPrefix(filepath.Clean(full), cleanDir+string(os.PathSeparator)) &&
		filepath.Clean(full) != cleanDir {
		return "", qserrors.NewError(qserrors.ErrCodeScratchIO, "scratch path escapes cache directory").
			WithComponent("data").WithOperation("scratchPath").WithDetail("fid", fid)
	}
	return full, nil
}

// ensureScratchDir creates the scratch directory if it does not exist.
// Failure here at mount time is fatal per spec.md §7; post-mount failures
// are reported per-operation by the caller.
func ensureScratchDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot create scratch directory").
			WithComponent("data").WithOperation("ensureScratchDir").WithCause(err)
	}
	return nil
}

// isSafeDiskSpace reports whether dir's filesystem has at least
// requested+reserve free bytes, per spec.md §6's statvfs-based check.
func isSafeDiskSpace(dir string, requested, reserve int64) (bool, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return false, qserrors.NewError(qserrors.ErrCodeScratchIO, "statvfs failed").
			WithComponent("data").WithOperation("isSafeDiskSpace").WithCause(err)
	}
	free := int64(stat.Bavail) * int64(stat.Bsize) //nolint:unconvert
	return free >= requested+reserve, nil
}

// writeScratchFileAtomic writes data to a brand-new scratch page file,
// writing to a .tmp sibling first and renaming it into place so a crash or
// concurrent reader never observes a partially written page -- the same
// write-tmp-then-rename shape internal/cache/persistent.go uses for its
// index file, applied here to page bodies instead.
func writeScratchFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot write scratch page").
			WithComponent("data").WithOperation("writeScratchFileAtomic").WithCause(err).
			WithDetail("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot finalize scratch page").
			WithComponent("data").WithOperation("writeScratchFileAtomic").WithCause(err).
			WithDetail("path", path)
	}
	return nil
}

// removeScratchFile best-effort deletes a page's backing scratch file. A
// missing file is not an error: pages may be cleared more than once during
// rollback.
func removeScratchFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return qserrors.NewError(qserrors.ErrCodeScratchIO, "cannot remove scratch file").
			WithComponent("data").WithOperation("removeScratchFile").WithCause(err).
			WithDetail("path", path)
	}
	return nil
}
