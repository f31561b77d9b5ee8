package data

import "time"

// Config is an immutable snapshot of the settings the core needs. Per
// spec.md's design notes, the core never reaches into a global
// configuration singleton; internal/adapter builds one of these with
// internal/config's Configuration.ToCoreConfig, and internal/vfscore
// passes it to NewCache.
type Config struct {
	// MaxCacheSizeMB is the memory budget for cached page bytes, in
	// megabytes. Corresponds to the max_cache_size_mb configuration key.
	MaxCacheSizeMB int64

	// DiskCacheDir is the scratch directory pages spill to when the
	// memory budget is exhausted. Corresponds to disk_cache_dir.
	DiskCacheDir string

	// PrefetchSize is a read-ahead granularity hint. The core does not
	// act on it, and no binding in this module reads it: internal/fuse's
	// read-ahead uses its own window size and does not coalesce reads.
	PrefetchSize int64

	// AllowDiskSpill disables disk overflow when false: a write that
	// cannot be satisfied from the memory budget fails outright instead
	// of falling back to scratch.
	AllowDiskSpill bool

	// NullableMeta records that utimens/chmod/chown are in-memory-only
	// updates (true, the default) per the Open Question recorded in
	// SPEC_FULL.md. No code reads it; those calls never persist
	// server-side, whatever its value.
	NullableMeta bool

	// SafeDiskReserveBytes is the reserve subtracted from statvfs free
	// bytes before a disk allocation is considered safe (default 16MiB
	// per spec.md §6).
	SafeDiskReserveBytes int64

	// MaxMetadataEntries bounds FileMetaDataManager's LRU, per spec.md
	// §4.5. A non-positive value disables bounding.
	MaxMetadataEntries int
}

// CacheCapacityBytes returns the memory budget in bytes.
func (c Config) CacheCapacityBytes() int64 {
	return c.MaxCacheSizeMB * 1024 * 1024
}

// MetadataCacheEntries returns the FileMetaDataManager capacity this
// Config specifies.
func (c Config) MetadataCacheEntries() int {
	return c.MaxMetadataEntries
}

// DefaultConfig returns the core's defaults, matching spec.md §6's
// documented defaults (scratch dir /tmp/qsfs_cache, 16MiB safe-space
// reserve).
func DefaultConfig() Config {
	return Config{
		MaxCacheSizeMB:       2048,
		DiskCacheDir:         "/tmp/qsfs_cache",
		PrefetchSize:         128 * 1024,
		AllowDiskSpill:       true,
		NullableMeta:         true,
		SafeDiskReserveBytes: 16 * 1024 * 1024,
		MaxMetadataEntries:   100000,
	}
}

// defaultCleanupInterval is a default period for background maintenance
// loops. Nothing in this package reads it; FileMetaDataManager and
// ResourceManager run no background loops.
const defaultCleanupInterval = 5 * time.Minute
